package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParticipantKind is the account type behind an identity.
type ParticipantKind string

const (
	Employee  ParticipantKind = "employee"
	Applicant ParticipantKind = "applicant"
	Admin     ParticipantKind = "admin"
)

// Valid reports whether k is one of the known kinds.
func (k ParticipantKind) Valid() bool {
	switch k {
	case Employee, Applicant, Admin:
		return true
	}
	return false
}

// Participant identifies an employee, applicant or admin user.
type Participant struct {
	Kind ParticipantKind `json:"kind"`
	ID   string          `json:"id"`
}

func (p Participant) String() string {
	return string(p.Kind) + ":" + p.ID
}

// ParseParticipant parses the "kind:id" form produced by String.
func ParseParticipant(s string) (Participant, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Participant{}, fmt.Errorf("invalid participant %q", s)
	}

	p := Participant{Kind: ParticipantKind(kind), ID: id}
	if !p.Kind.Valid() {
		return Participant{}, fmt.Errorf("invalid participant kind %q", kind)
	}

	return p, nil
}

// SiteID is the tenant isolation boundary.
type SiteID string

// RoomID is a conversation scope. Identifiers prefixed with "channel_" are
// routed to channel broadcasts at the gateway boundary.
type RoomID string

const channelPrefix = "channel_"

// IsChannel reports whether the room uses the channel routing convention.
func (r RoomID) IsChannel() bool {
	return strings.HasPrefix(string(r), channelPrefix) && len(r) > len(channelPrefix)
}

// ChannelRoom is the room form of a channel identifier.
func ChannelRoom(channelID string) RoomID {
	return RoomID(channelPrefix + channelID)
}

// ChannelID strips the channel prefix. It returns "" for plain rooms.
func (r RoomID) ChannelID() string {
	if !r.IsChannel() {
		return ""
	}
	return strings.TrimPrefix(string(r), channelPrefix)
}

// RoomKey is a room qualified by its site. Room names are only unique
// within a site, so every piece of per-room state is keyed by RoomKey.
type RoomKey struct {
	Site SiteID
	Room RoomID
}

func (k RoomKey) String() string {
	return string(k.Site) + "/" + string(k.Room)
}

// SiteRoom is the room every session of site is subscribed to. Presence
// updates are sent there.
func SiteRoom(site SiteID) RoomID {
	return RoomID("site:" + string(site))
}

// InboxRoom is the private room of one participant. Queue drains are sent
// there.
func InboxRoom(site SiteID, p Participant) RoomID {
	return RoomID("inbox:" + string(site) + ":" + p.String())
}

// Event types pushed through the broadcast gateway.
const (
	EventTypingState   = "typing:state"
	EventTypingPreview = "typing:preview"
	EventMessageNew    = "message:new"
	EventMessageStatus = "message:status"
	EventQueueDrained  = "queue:drained"
	EventPresence      = "presence:update"
	EventError         = "error"
)

// Event is the {type, data} envelope delivered to subscribed sessions.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RawEvent is an Event whose data has not been decoded yet.
type RawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TypingUser is one entry of a room's typing snapshot.
type TypingUser struct {
	Kind        ParticipantKind `json:"kind"`
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Avatar      string          `json:"avatar,omitempty"`
}

// Participant returns the identity of the typing user.
func (u TypingUser) Participant() Participant {
	return Participant{Kind: u.Kind, ID: u.ID}
}

// TypingState is the payload of a typing:state event.
type TypingState struct {
	Room  RoomID       `json:"room"`
	Users []TypingUser `json:"users"`
	Text  *string      `json:"text"`
}

// TypingPreview is the payload of a typing:preview event.
type TypingPreview struct {
	Room        RoomID      `json:"room"`
	Participant Participant `json:"participant"`
	DisplayName string      `json:"displayName"`
	Content     string      `json:"content"`
}

// MessageStatusUpdate is the payload of a message:status event. Recipient is
// set when the change concerns one recipient's view.
type MessageStatusUpdate struct {
	MessageID uuid.UUID    `json:"messageId"`
	Room      RoomID       `json:"room"`
	Status    string       `json:"status"`
	Recipient *Participant `json:"recipient,omitempty"`
}

// PresenceUpdate is the payload of a presence:update event.
type PresenceUpdate struct {
	Participant Participant `json:"participant"`
	Online      bool        `json:"online"`
	LastSeen    time.Time   `json:"lastSeen,omitzero"`
}

// ErrorNotice is the payload of an error event sent to a single session.
type ErrorNotice struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}
