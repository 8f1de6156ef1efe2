// Package status tracks the sent/delivered/read lifecycle of messages.
package status

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/model"
)

var (
	ErrInvalidTransition = errors.New("status: invalid transition")
	ErrNotFound          = errors.New("status: message not tracked")
	ErrExists            = errors.New("status: message already tracked")
)

// State is a message lifecycle state.
type State string

const (
	Pending   State = "pending"
	Sent      State = "sent"
	Delivered State = "delivered"
	Read      State = "read"
	Failed    State = "failed"
)

func (s State) rank() int {
	switch s {
	case Pending:
		return 0
	case Sent:
		return 1
	case Delivered:
		return 2
	case Read:
		return 3
	}
	return -1
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == Failed || s.rank() >= 0
}

// RecipientStatus is one recipient's view of a message.
type RecipientStatus struct {
	Recipient model.Participant `json:"recipient"`
	Status    State             `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Record is the status of one message. Status is the value shown to the
// sender: the lowest state across recipients, or Failed.
type Record struct {
	Site          model.SiteID      `json:"site"`
	MessageID     uuid.UUID         `json:"message_id"`
	Room          model.RoomID      `json:"room"`
	Status        State             `json:"status"`
	Recipients    []RecipientStatus `json:"recipients"`
	FailureReason string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Recipient returns the status entry of p.
func (r *Record) Recipient(p model.Participant) (*RecipientStatus, bool) {
	for i := range r.Recipients {
		if r.Recipients[i].Recipient == p {
			return &r.Recipients[i], true
		}
	}
	return nil, false
}

func (r *Record) recompute() {
	if r.Status == Failed || len(r.Recipients) == 0 {
		return
	}

	lowest := r.Recipients[0].Status
	for _, rs := range r.Recipients[1:] {
		if rs.Status.rank() < lowest.rank() {
			lowest = rs.Status
		}
	}
	r.Status = lowest
}

func (r Record) clone() Record {
	r.Recipients = append([]RecipientStatus(nil), r.Recipients...)
	return r
}
