package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/model"
	"github.com/johndosdos/chatterd/internal/queue"
	"github.com/johndosdos/chatterd/internal/status"
)

// Commands sent by sessions.
const (
	CmdTypingStart   = "typing:start"
	CmdTypingStop    = "typing:stop"
	CmdTypingPreview = "typing:preview"
	CmdMessageSend   = "message:send"
	CmdMessageRead   = "message:read"
	CmdRoomJoin      = "room:join"
	CmdRoomLeave     = "room:leave"
)

// Coordinator is what a session drives.
type Coordinator interface {
	Connect(ctx context.Context, site model.SiteID, p model.Participant, session string) ([]queue.QueuedMessage, error)
	Disconnect(ctx context.Context, site model.SiteID, p model.Participant, session string)
	MessageSent(ctx context.Context, msg model.Message) (status.Record, error)
	ReadReceipt(ctx context.Context, site model.SiteID, messageID uuid.UUID, reader model.Participant) (status.Record, error)
	TypingStart(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant, displayName, avatar string)
	TypingStop(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant)
	TypingPreview(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant, displayName, content string)
}

type roomCommand struct {
	Room    model.RoomID `json:"room"`
	Content string       `json:"content"`
}

type sendCommand struct {
	ID         uuid.UUID           `json:"id"`
	Room       model.RoomID        `json:"room"`
	ThreadID   string              `json:"threadId"`
	Content    string              `json:"content"`
	Kind       model.MessageKind   `json:"kind"`
	Priority   int                 `json:"priority"`
	Recipients []model.Participant `json:"recipients"`
}

type readCommand struct {
	MessageID uuid.UUID `json:"messageId"`
}

// Serve registers c with the hub and the coordinator, then reads commands
// until the connection closes. It blocks for the life of the session.
func (c *Client) Serve(ctx context.Context, coord Coordinator) error {
	if err := c.hub.Register(ctx, c); err != nil {
		c.conn.CloseNow()
		return err
	}

	session := c.ID.String()
	if _, err := coord.Connect(ctx, c.Site, c.Participant, session); err != nil {
		// The session still works; queued entries wait for the next connect.
		c.logger.ErrorContext(ctx, "failed to drain queue", "error", err)
	}

	go c.WriteMessage(ctx)
	c.ReadMessage(ctx, coord)
	return nil
}

// ReadMessage reads the incoming commands from the websocket stream.
func (c *Client) ReadMessage(ctx context.Context, coord Coordinator) {
	defer func() {
		// The request context is usually gone by now.
		cleanup := context.WithoutCancel(ctx)
		if err := c.hub.Unregister(cleanup, c); err != nil && !errors.Is(err, ErrHubStopped) {
			c.logger.WarnContext(ctx, "failed to unregister session", "error", err)
		}
		coord.Disconnect(cleanup, c.Site, c.Participant, c.ID.String())
		c.conn.CloseNow()
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			if code != websocket.StatusNormalClosure &&
				code != websocket.StatusGoingAway &&
				code != -1 {
				c.logger.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}

		// Only JSON text frames are supported.
		if msgType != websocket.MessageText {
			continue
		}

		var cmd model.RawEvent
		if err := json.Unmarshal(p, &cmd); err != nil {
			c.replyError(ctx, "", "malformed command")
			continue
		}

		c.handle(ctx, coord, cmd)
	}
}

func (c *Client) handle(ctx context.Context, coord Coordinator, cmd model.RawEvent) {
	switch cmd.Type {
	case CmdTypingStart, CmdTypingStop, CmdTypingPreview, CmdRoomJoin, CmdRoomLeave:
		var rc roomCommand
		if err := json.Unmarshal(cmd.Data, &rc); err != nil || rc.Room == "" {
			c.replyError(ctx, cmd.Type, "room is required")
			return
		}
		c.handleRoom(ctx, coord, cmd.Type, rc)

	case CmdMessageSend:
		var sc sendCommand
		if err := json.Unmarshal(cmd.Data, &sc); err != nil || sc.Room == "" {
			c.replyError(ctx, cmd.Type, "room is required")
			return
		}
		if c.messageLim != nil && !c.messageLim.Allow() {
			c.replyError(ctx, cmd.Type, "too many messages, slow down")
			return
		}

		msg := model.Message{
			ID:         sc.ID,
			Site:       c.Site,
			Room:       sc.Room,
			ThreadID:   sc.ThreadID,
			Sender:     c.Participant,
			SenderName: c.DisplayName,
			Content:    sc.Content,
			Kind:       sc.Kind,
			Priority:   sc.Priority,
			Recipients: sc.Recipients,
			CreatedAt:  time.Now().UTC(),
		}
		if _, err := coord.MessageSent(ctx, msg); err != nil {
			c.logger.WarnContext(ctx, "message rejected", "error", err)
			c.replyError(ctx, cmd.Type, "message rejected")
			return
		}
		// The sender stops typing once the message is out.
		coord.TypingStop(ctx, c.Site, sc.Room, c.Participant)

	case CmdMessageRead:
		var rc readCommand
		if err := json.Unmarshal(cmd.Data, &rc); err != nil || rc.MessageID == uuid.Nil {
			c.replyError(ctx, cmd.Type, "messageId is required")
			return
		}
		if _, err := coord.ReadReceipt(ctx, c.Site, rc.MessageID, c.Participant); err != nil {
			switch {
			case errors.Is(err, status.ErrNotFound):
				c.replyError(ctx, cmd.Type, "unknown message")
			case errors.Is(err, status.ErrInvalidTransition):
				c.replyError(ctx, cmd.Type, "message cannot be marked read")
			default:
				c.logger.WarnContext(ctx, "read receipt failed", "error", err)
				c.replyError(ctx, cmd.Type, "read receipt failed")
			}
		}

	default:
		c.replyError(ctx, cmd.Type, "unknown command")
	}
}

func (c *Client) handleRoom(ctx context.Context, coord Coordinator, command string, rc roomCommand) {
	switch command {
	case CmdTypingStart:
		if c.typingLim != nil && !c.typingLim.Allow() {
			return
		}
		coord.TypingStart(ctx, c.Site, rc.Room, c.Participant, c.DisplayName, c.Avatar)

	case CmdTypingStop:
		coord.TypingStop(ctx, c.Site, rc.Room, c.Participant)

	case CmdTypingPreview:
		if c.typingLim != nil && !c.typingLim.Allow() {
			return
		}
		coord.TypingPreview(ctx, c.Site, rc.Room, c.Participant, c.DisplayName, rc.Content)

	case CmdRoomJoin:
		if reserved(rc.Room) {
			c.replyError(ctx, command, "room is reserved")
			return
		}
		if err := c.hub.Join(ctx, c, rc.Room); err != nil {
			c.logger.WarnContext(ctx, "failed to join room", "error", err, "room", string(rc.Room))
		}

	case CmdRoomLeave:
		if reserved(rc.Room) {
			return
		}
		if err := c.hub.Leave(ctx, c, rc.Room); err != nil {
			c.logger.WarnContext(ctx, "failed to leave room", "error", err, "room", string(rc.Room))
		}
	}
}

// reserved rooms are managed by the hub itself.
func reserved(room model.RoomID) bool {
	s := string(room)
	return strings.HasPrefix(s, "site:") || strings.HasPrefix(s, "inbox:")
}
