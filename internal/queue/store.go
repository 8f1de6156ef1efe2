package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/model"
)

// Store persists queue entries. Implementations must enforce at most one
// pending entry per Key and make ClaimPending atomic.
type Store interface {
	// Insert stores m. It returns ErrDuplicateQueueEntry when a pending
	// entry with the same Key exists.
	Insert(ctx context.Context, m *QueuedMessage) error
	// Find returns the most recent entry for key in the given status.
	Find(ctx context.Context, key Key, status Status) (QueuedMessage, error)
	// ListPending returns the pending entries of recipient in delivery order.
	ListPending(ctx context.Context, site model.SiteID, recipient model.Participant) ([]QueuedMessage, error)
	// ClaimPending marks the recipient's pending entries delivered (or
	// expired when past expiry at now) and returns the delivered ones.
	ClaimPending(ctx context.Context, site model.SiteID, recipient model.Participant, now time.Time) (delivered []QueuedMessage, expired int, err error)
	CountPending(ctx context.Context, site model.SiteID, recipient model.Participant, now time.Time) (int, error)
	// ExpireBefore marks every pending entry with ExpiresAt <= now expired.
	ExpireBefore(ctx context.Context, now time.Time) (int, error)
	// Update overwrites the mutable fields of m if the stored entry is still
	// in status from. It returns ErrNotFound otherwise.
	Update(ctx context.Context, m QueuedMessage, from Status) error
}

type recipientKey struct {
	site      model.SiteID
	recipient model.Participant
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.Mutex
	seq         int64
	entries     map[uuid.UUID]*QueuedMessage
	pending     map[Key]uuid.UUID
	byRecipient map[recipientKey][]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[uuid.UUID]*QueuedMessage),
		pending:     make(map[Key]uuid.UUID),
		byRecipient: make(map[recipientKey][]uuid.UUID),
	}
}

func (s *MemoryStore) Insert(_ context.Context, m *QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[m.Key()]; ok && m.Status == StatusPending {
		return ErrDuplicateQueueEntry
	}

	s.seq++
	m.Seq = s.seq
	stored := *m
	s.entries[m.ID] = &stored
	if m.Status == StatusPending {
		s.pending[m.Key()] = m.ID
	}

	rk := recipientKey{site: m.Site, recipient: m.Recipient}
	s.byRecipient[rk] = append(s.byRecipient[rk], m.ID)
	return nil
}

func (s *MemoryStore) Find(_ context.Context, key Key, status Status) (QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byRecipient[recipientKey{site: key.Site, recipient: key.Recipient}]
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.entries[ids[i]]
		if m.MessageID == key.MessageID && m.Status == status {
			return *m, nil
		}
	}
	return QueuedMessage{}, ErrNotFound
}

func (s *MemoryStore) ListPending(_ context.Context, site model.SiteID, recipient model.Participant) ([]QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []QueuedMessage
	for _, id := range s.byRecipient[recipientKey{site: site, recipient: recipient}] {
		if m := s.entries[id]; m.Status == StatusPending {
			out = append(out, *m)
		}
	}
	sortDelivery(out)
	return out, nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, site model.SiteID, recipient model.Participant, now time.Time) ([]QueuedMessage, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		delivered []QueuedMessage
		expired   int
	)
	for _, id := range s.byRecipient[recipientKey{site: site, recipient: recipient}] {
		m := s.entries[id]
		if m.Status != StatusPending {
			continue
		}
		delete(s.pending, m.Key())

		if m.Expired(now) {
			m.Status = StatusExpired
			expired++
			continue
		}

		m.Status = StatusDelivered
		m.Attempts++
		m.LastAttemptAt = now
		delivered = append(delivered, *m)
	}

	sortDelivery(delivered)
	return delivered, expired, nil
}

func (s *MemoryStore) CountPending(_ context.Context, site model.SiteID, recipient model.Participant, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.byRecipient[recipientKey{site: site, recipient: recipient}] {
		if m := s.entries[id]; m.Status == StatusPending && !m.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ExpireBefore(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, id := range s.pending {
		m := s.entries[id]
		if !m.Expired(now) {
			continue
		}
		m.Status = StatusExpired
		delete(s.pending, key)
		n++
	}
	return n, nil
}

func (s *MemoryStore) Update(_ context.Context, m QueuedMessage, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[m.ID]
	if !ok || cur.Status != from {
		return ErrNotFound
	}

	key := cur.Key()
	if m.Status == StatusPending && from != StatusPending {
		if _, taken := s.pending[key]; taken {
			return ErrDuplicateQueueEntry
		}
	}

	cur.Status = m.Status
	cur.Attempts = m.Attempts
	cur.LastAttemptAt = m.LastAttemptAt
	cur.PushSent = m.PushSent
	cur.PushSentAt = m.PushSentAt
	cur.FailureReason = m.FailureReason
	cur.ExpiresAt = m.ExpiresAt

	if cur.Status == StatusPending {
		s.pending[key] = cur.ID
	} else if s.pending[key] == cur.ID {
		delete(s.pending, key)
	}
	return nil
}
