package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/chatterd/internal/model"
)

const writeTimeout = 10 * time.Second

// Client is one websocket session of an authenticated participant.
type Client struct {
	ID          uuid.UUID
	Site        model.SiteID
	Participant model.Participant
	DisplayName string
	Avatar      string

	conn       *websocket.Conn
	hub        *Hub
	send       chan []byte // closed by the hub
	direct     chan []byte // replies to this session only
	rooms      map[model.RoomID]struct{}
	messageLim *rate.Limiter
	typingLim  *rate.Limiter
	logger     *slog.Logger
}

func NewClient(conn *websocket.Conn, hub *Hub, site model.SiteID, p model.Participant, displayName, avatar string) *Client {
	id := uuid.New()
	return &Client{
		ID:          id,
		Site:        site,
		Participant: p,
		DisplayName: displayName,
		Avatar:      avatar,
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, 64),
		direct:      make(chan []byte, 8),
		rooms:       make(map[model.RoomID]struct{}),
		logger:      hub.logger.With("session", id.String(), "participant", p.String()),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	c.messageLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

func (c *Client) SetTypingLimiter(requests int, window time.Duration) {
	c.typingLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// WriteMessage writes queued events to the websocket until the hub closes
// the session or ctx is done.
func (c *Client) WriteMessage(ctx context.Context) {
	for {
		var payload []byte
		select {
		case p, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			payload = p
		case payload = <-c.direct:
		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "failed to write event", "error", err)
			return
		}
	}
}

// reply sends ev to this session only. It drops the event when the session
// is not keeping up.
func (c *Client) reply(ctx context.Context, ev model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.ErrorContext(ctx, "could not encode reply", "error", err)
		return
	}

	select {
	case c.direct <- payload:
	default:
		c.logger.WarnContext(ctx, "skipping reply - channel full or client slow", "event_type", ev.Type)
	}
}

func (c *Client) replyError(ctx context.Context, command, msg string) {
	c.reply(ctx, model.Event{
		Type: model.EventError,
		Data: model.ErrorNotice{Command: command, Message: msg},
	})
}
