package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/chatterd/internal/keylock"
	"github.com/johndosdos/chatterd/internal/model"
)

const (
	DefaultExpiry        = 7 * 24 * time.Hour
	DefaultPreviewMaxLen = 100
)

type sanitizer interface {
	Sanitize(s string) string
}

// PushNotifier hands a queued message to an external push transport.
type PushNotifier interface {
	Notify(ctx context.Context, m QueuedMessage) error
}

// Policy controls entry expiry and preview size.
type Policy struct {
	Expiry        time.Duration
	PreviewMaxLen int
}

func (p Policy) withDefaults() Policy {
	if p.Expiry <= 0 {
		p.Expiry = DefaultExpiry
	}
	if p.PreviewMaxLen <= 0 {
		p.PreviewMaxLen = DefaultPreviewMaxLen
	}
	return p
}

// Queue is the delivery queue for absent recipients. Mutations for the same
// recipient are serialised so a drain is a single-consumer operation.
type Queue struct {
	store     Store
	push      PushNotifier
	policy    Policy
	sanitizer sanitizer
	locks     keylock.Set[recipientKey]
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Queue backed by store. push may be nil.
func New(store Store, push PushNotifier, policy Policy, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:     store,
		push:      push,
		policy:    policy.withDefaults(),
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		now:       time.Now,
	}
}

// EnqueueOption customises a single Enqueue call.
type EnqueueOption func(*QueuedMessage)

// WithExpiresAt overrides the policy expiry.
func WithExpiresAt(t time.Time) EnqueueOption {
	return func(m *QueuedMessage) { m.ExpiresAt = t }
}

// WithPushSent marks the entry as already notified so no push is sent.
func WithPushSent(at time.Time) EnqueueOption {
	return func(m *QueuedMessage) {
		m.PushSent = true
		m.PushSentAt = at
	}
}

// Enqueue creates a pending entry of msg for recipient. It returns
// ErrDuplicateQueueEntry if one is already pending.
func (q *Queue) Enqueue(ctx context.Context, msg model.Message, recipient model.Participant, opts ...EnqueueOption) (QueuedMessage, error) {
	now := q.now()
	m := QueuedMessage{
		ID:         uuid.New(),
		Site:       msg.Site,
		Recipient:  recipient,
		MessageID:  msg.ID,
		Room:       msg.Room,
		ThreadID:   msg.ThreadID,
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Preview:    q.preview(msg.Content),
		Kind:       msg.Kind,
		Priority:   clampPriority(msg.Priority),
		Status:     StatusPending,
		ExpiresAt:  now.Add(q.policy.Expiry),
		CreatedAt:  now,
	}
	if m.Kind == "" {
		m.Kind = model.KindDirect
	}
	for _, opt := range opts {
		opt(&m)
	}

	unlock := q.locks.Lock(recipientKey{site: m.Site, recipient: recipient})
	err := q.store.Insert(ctx, &m)
	unlock()
	if err != nil {
		if errors.Is(err, ErrDuplicateQueueEntry) {
			return QueuedMessage{}, err
		}
		return QueuedMessage{}, fmt.Errorf("queue: insert: %w", err)
	}

	// Push runs outside the recipient lock.
	if q.push != nil && !m.PushSent {
		q.notify(ctx, &m)
	}

	return m, nil
}

func (q *Queue) notify(ctx context.Context, m *QueuedMessage) {
	if err := q.push.Notify(ctx, *m); err != nil {
		q.logger.WarnContext(ctx, "failed to send push notification",
			"error", err,
			"site", string(m.Site),
			"recipient", m.Recipient.String(),
			"message_id", m.MessageID.String())
		return
	}

	sentAt := q.now()
	m.PushSent = true
	m.PushSentAt = sentAt

	unlock := q.locks.Lock(recipientKey{site: m.Site, recipient: m.Recipient})
	defer unlock()

	cur, err := q.store.Find(ctx, m.Key(), StatusPending)
	if errors.Is(err, ErrNotFound) || (err == nil && cur.ID != m.ID) {
		// Drained or failed while the push was in flight.
		return
	}
	if err == nil {
		cur.PushSent = true
		cur.PushSentAt = sentAt
		err = q.store.Update(ctx, cur, StatusPending)
	}
	if err != nil {
		q.logger.WarnContext(ctx, "failed to record push notification",
			"error", err,
			"queue_id", m.ID.String())
	}
}

// clampPriority keeps p within the range the Postgres store can hold.
func clampPriority(p int) int {
	return min(max(p, math.MinInt32), math.MaxInt32)
}

// Drain hands over every pending, unexpired entry of recipient ordered by
// priority then creation time, marking them delivered. Entries past expiry
// are marked expired and left out.
func (q *Queue) Drain(ctx context.Context, site model.SiteID, recipient model.Participant) ([]QueuedMessage, error) {
	unlock := q.locks.Lock(recipientKey{site: site, recipient: recipient})
	defer unlock()

	delivered, expired, err := q.store.ClaimPending(ctx, site, recipient, q.now())
	if err != nil {
		return nil, fmt.Errorf("queue: drain: %w", err)
	}

	if expired > 0 {
		q.logger.InfoContext(ctx, "skipped expired queue entries",
			"site", string(site),
			"recipient", recipient.String(),
			"expired", expired)
	}

	return delivered, nil
}

// Pending lists the pending entries of recipient without changing them.
func (q *Queue) Pending(ctx context.Context, site model.SiteID, recipient model.Participant) ([]QueuedMessage, error) {
	out, err := q.store.ListPending(ctx, site, recipient)
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	return out, nil
}

// CountPending returns the number of deliverable entries of recipient.
func (q *Queue) CountPending(ctx context.Context, site model.SiteID, recipient model.Participant) (int, error) {
	n, err := q.store.CountPending(ctx, site, recipient, q.now())
	if err != nil {
		return 0, fmt.Errorf("queue: count pending: %w", err)
	}
	return n, nil
}

// ExpireStale marks every pending entry past expiry as expired.
func (q *Queue) ExpireStale(ctx context.Context) (int, error) {
	n, err := q.store.ExpireBefore(ctx, q.now())
	if err != nil {
		return 0, fmt.Errorf("queue: expire stale: %w", err)
	}
	return n, nil
}

// MarkFailed moves the pending entry for key to failed.
func (q *Queue) MarkFailed(ctx context.Context, key Key, reason string) (QueuedMessage, error) {
	unlock := q.locks.Lock(recipientKey{site: key.Site, recipient: key.Recipient})
	defer unlock()

	m, err := q.store.Find(ctx, key, StatusPending)
	if err != nil {
		return QueuedMessage{}, err
	}

	m.Status = StatusFailed
	m.Attempts++
	m.LastAttemptAt = q.now()
	m.FailureReason = reason
	if err := q.store.Update(ctx, m, StatusPending); err != nil {
		return QueuedMessage{}, err
	}
	return m, nil
}

// Retry moves the failed entry for key back to pending with a fresh expiry.
func (q *Queue) Retry(ctx context.Context, key Key) (QueuedMessage, error) {
	unlock := q.locks.Lock(recipientKey{site: key.Site, recipient: key.Recipient})
	defer unlock()

	m, err := q.store.Find(ctx, key, StatusFailed)
	if err != nil {
		return QueuedMessage{}, err
	}

	m.Status = StatusPending
	m.FailureReason = ""
	m.ExpiresAt = q.now().Add(q.policy.Expiry)
	if err := q.store.Update(ctx, m, StatusFailed); err != nil {
		return QueuedMessage{}, err
	}
	return m, nil
}

// RunSweeper calls ExpireStale every interval until ctx is done.
func (q *Queue) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.ExpireStale(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.logger.ErrorContext(ctx, "queue sweep failed", "error", err)
				continue
			}
			if n > 0 {
				q.logger.InfoContext(ctx, "expired stale queue entries", "count", n)
			}
		}
	}
}

func (q *Queue) preview(content string) string {
	s := q.sanitizer.Sanitize(content)
	if utf8.RuneCountInString(s) <= q.policy.PreviewMaxLen {
		return s
	}

	r := []rune(s)
	return string(r[:q.policy.PreviewMaxLen]) + "..."
}
