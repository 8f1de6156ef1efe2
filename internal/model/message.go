// Package model defines data structure.
package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies how a message reached its recipient.
type MessageKind string

const (
	KindDirect  MessageKind = "direct"
	KindChannel MessageKind = "channel"
	KindThread  MessageKind = "thread"
	KindMention MessageKind = "mention"
)

// Message holds information about a single accepted chat message.
type Message struct {
	ID         uuid.UUID     `json:"id"`
	Site       SiteID        `json:"site"`
	Room       RoomID        `json:"room"`
	ThreadID   string        `json:"thread_id,omitempty"`
	Sender     Participant   `json:"sender"`
	SenderName string        `json:"sender_name"`
	Content    string        `json:"content"`
	Kind       MessageKind   `json:"kind"`
	Priority   int           `json:"priority"`
	Recipients []Participant `json:"recipients"`
	CreatedAt  time.Time     `json:"created_at"`
}
