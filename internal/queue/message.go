// Package queue holds messages for recipients that are not connected and
// hands them over when the recipient reconnects.
package queue

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/model"
)

var (
	// ErrDuplicateQueueEntry means a pending entry already exists for the
	// (recipient, message) pair. Callers treat it as already queued.
	ErrDuplicateQueueEntry = errors.New("queue: duplicate pending entry")
	ErrNotFound            = errors.New("queue: entry not found")
)

// Status is the lifecycle state of a QueuedMessage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Key identifies the (site, recipient, message) triple. The site is part of
// every key so entries never cross tenants.
type Key struct {
	Site      model.SiteID
	Recipient model.Participant
	MessageID uuid.UUID
}

// QueuedMessage is a message waiting for one recipient.
type QueuedMessage struct {
	ID            uuid.UUID         `json:"id"`
	Seq           int64             `json:"-"`
	Site          model.SiteID      `json:"site"`
	Recipient     model.Participant `json:"recipient"`
	MessageID     uuid.UUID         `json:"message_id"`
	Room          model.RoomID      `json:"room"`
	ThreadID      string            `json:"thread_id,omitempty"`
	Sender        model.Participant `json:"sender"`
	SenderName    string            `json:"sender_name"`
	Preview       string            `json:"preview"`
	Kind          model.MessageKind `json:"kind"`
	Priority      int               `json:"priority"`
	Status        Status            `json:"status"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt time.Time         `json:"last_attempt_at,omitzero"`
	PushSent      bool              `json:"push_sent"`
	PushSentAt    time.Time         `json:"push_sent_at,omitzero"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Key returns the identity of m.
func (m QueuedMessage) Key() Key {
	return Key{Site: m.Site, Recipient: m.Recipient, MessageID: m.MessageID}
}

// Expired reports whether m is past its expiry at now.
func (m QueuedMessage) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

func sortDelivery(ms []QueuedMessage) {
	slices.SortFunc(ms, deliveryOrder)
}

// deliveryOrder sorts by priority descending, then creation order.
func deliveryOrder(a, b QueuedMessage) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
