package status

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/keylock"
	"github.com/johndosdos/chatterd/internal/model"
)

// Machine applies lifecycle transitions. Transitions for one message are
// serialised; unrelated messages proceed in parallel.
type Machine struct {
	store Store
	now   func() time.Time
	locks keylock.Set[recordKey]
}

func NewMachine(store Store) *Machine {
	return &Machine{
		store: store,
		now:   time.Now,
	}
}

// Track creates the pending record of a message addressed to recipients.
func (m *Machine) Track(ctx context.Context, site model.SiteID, messageID uuid.UUID, room model.RoomID, recipients []model.Participant) (Record, error) {
	now := m.now()
	r := Record{
		Site:      site,
		MessageID: messageID,
		Room:      room,
		Status:    Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seen := make(map[model.Participant]bool, len(recipients))
	for _, p := range recipients {
		if seen[p] {
			continue
		}
		seen[p] = true
		r.Recipients = append(r.Recipients, RecipientStatus{Recipient: p, Status: Pending, UpdatedAt: now})
	}

	if err := m.store.Create(ctx, r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Get returns the current record.
func (m *Machine) Get(ctx context.Context, site model.SiteID, messageID uuid.UUID) (Record, error) {
	return m.store.Get(ctx, site, messageID)
}

// MarkSent moves a pending message to sent. It is a no-op once the message
// is sent or further along.
func (m *Machine) MarkSent(ctx context.Context, site model.SiteID, messageID uuid.UUID) (Record, bool, error) {
	return m.apply(ctx, site, messageID, func(r *Record, now time.Time) (bool, error) {
		switch r.Status {
		case Failed:
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, Sent)
		case Pending:
		default:
			return false, nil
		}

		r.Status = Sent
		for i := range r.Recipients {
			if r.Recipients[i].Status == Pending {
				r.Recipients[i].Status = Sent
				r.Recipients[i].UpdatedAt = now
			}
		}
		return true, nil
	})
}

// MarkDelivered records that recipient received the message.
func (m *Machine) MarkDelivered(ctx context.Context, site model.SiteID, messageID uuid.UUID, recipient model.Participant) (Record, bool, error) {
	return m.advance(ctx, site, messageID, recipient, Delivered)
}

// MarkRead records that recipient read the message. A read on a sent but
// undelivered message implies delivery; a read on a pending message is
// rejected.
func (m *Machine) MarkRead(ctx context.Context, site model.SiteID, messageID uuid.UUID, recipient model.Participant) (Record, bool, error) {
	return m.advance(ctx, site, messageID, recipient, Read)
}

// MarkFailed fails a pending or sent message.
func (m *Machine) MarkFailed(ctx context.Context, site model.SiteID, messageID uuid.UUID, reason string) (Record, bool, error) {
	return m.apply(ctx, site, messageID, func(r *Record, _ time.Time) (bool, error) {
		if r.Status != Pending && r.Status != Sent {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, Failed)
		}
		r.Status = Failed
		r.FailureReason = reason
		return true, nil
	})
}

// Retry resets a failed message to pending and clears the failure reason.
// Recipients that had not received the message go back to pending.
func (m *Machine) Retry(ctx context.Context, site model.SiteID, messageID uuid.UUID) (Record, bool, error) {
	return m.apply(ctx, site, messageID, func(r *Record, now time.Time) (bool, error) {
		if r.Status != Failed {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, Pending)
		}
		r.Status = Pending
		r.FailureReason = ""
		for i := range r.Recipients {
			if r.Recipients[i].Status.rank() < Delivered.rank() {
				r.Recipients[i].Status = Pending
				r.Recipients[i].UpdatedAt = now
			}
		}
		r.recompute()
		return true, nil
	})
}

func (m *Machine) advance(ctx context.Context, site model.SiteID, messageID uuid.UUID, recipient model.Participant, to State) (Record, bool, error) {
	return m.apply(ctx, site, messageID, func(r *Record, now time.Time) (bool, error) {
		if r.Status == Failed {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
		}

		rs, ok := r.Recipient(recipient)
		if !ok {
			return false, fmt.Errorf("%w: %s is not a recipient", ErrInvalidTransition, recipient)
		}
		if rs.Status == Pending {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rs.Status, to)
		}
		if rs.Status.rank() >= to.rank() {
			return false, nil
		}

		rs.Status = to
		rs.UpdatedAt = now
		r.recompute()
		return true, nil
	})
}

// apply runs fn on the stored record under the message lock and saves the
// result when fn reports a change.
func (m *Machine) apply(ctx context.Context, site model.SiteID, messageID uuid.UUID, fn func(*Record, time.Time) (bool, error)) (Record, bool, error) {
	unlock := m.locks.Lock(recordKey{site: site, id: messageID})
	defer unlock()

	r, err := m.store.Get(ctx, site, messageID)
	if err != nil {
		return Record{}, false, err
	}

	now := m.now()
	changed, err := fn(&r, now)
	if err != nil {
		return r, false, err
	}
	if !changed {
		return r, false, nil
	}

	r.UpdatedAt = now
	if err := m.store.Save(ctx, r); err != nil {
		return Record{}, false, fmt.Errorf("status: save: %w", err)
	}
	return r, true, nil
}
