package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/johndosdos/chatterd/internal/model"
)

// ErrHubStopped is returned by hub calls made after Run has returned.
var ErrHubStopped = errors.New("websocket: hub stopped")

type registration struct {
	client *Client
	done   chan struct{}
}

type membership struct {
	client *Client
	room   model.RoomID
	join   bool
}

type outbound struct {
	room    model.RoomKey
	payload []byte
}

// Hub keeps the room subscriptions of the sessions connected to this node
// and fans events out to them. It is the local broadcast gateway. A session
// only ever subscribes to rooms of its own site.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[model.RoomKey]map[*Client]struct{}
	register   chan registration
	unregister chan *Client
	membership chan membership
	broadcast  chan outbound
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub returns a new instance of Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[model.RoomKey]map[*Client]struct{}),
		register:   make(chan registration),
		unregister: make(chan *Client),
		membership: make(chan membership),
		broadcast:  make(chan outbound, 1024),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run manages hub state until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
		}
	}()

	for {
		select {
		case reg := <-h.register:
			c := reg.client
			h.clients[c] = struct{}{}
			h.subscribe(c, model.SiteRoom(c.Site))
			h.subscribe(c, model.InboxRoom(c.Site, c.Participant))
			close(reg.done)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			for room := range c.rooms {
				h.unsubscribe(c, room)
			}
			delete(h.clients, c)
			close(c.send)

		case m := <-h.membership:
			if _, ok := h.clients[m.client]; !ok {
				continue
			}
			if m.join {
				h.subscribe(m.client, m.room)
			} else {
				h.unsubscribe(m.client, m.room)
			}

		case out := <-h.broadcast:
			for c := range h.rooms[out.room] {
				select {
				case c.send <- out.payload:
				default:
					h.logger.Warn("skipping event - channel full or client slow",
						"session", c.ID.String(),
						"room", out.room.String())
				}
			}

		case <-ctx.Done():
			h.logger.Info("hub stopped", "reason", ctx.Err())
			return
		}
	}
}

// subscribe and unsubscribe run on the Run goroutine only. The room is
// always qualified with the session's own site.
func (h *Hub) subscribe(c *Client, room model.RoomID) {
	rk := model.RoomKey{Site: c.Site, Room: room}
	members, ok := h.rooms[rk]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[rk] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, room model.RoomID) {
	rk := model.RoomKey{Site: c.Site, Room: room}
	delete(c.rooms, room)
	members := h.rooms[rk]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, rk)
	}
}

// Register adds c and subscribes it to its site and inbox rooms. It returns
// once c is able to receive broadcasts.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	reg := registration{client: c, done: make(chan struct{})}
	if err := send(ctx, h, h.register, reg); err != nil {
		return err
	}

	select {
	case <-reg.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister drops c and closes its outgoing channel.
func (h *Hub) Unregister(ctx context.Context, c *Client) error {
	return send(ctx, h, h.unregister, c)
}

func (h *Hub) Join(ctx context.Context, c *Client, room model.RoomID) error {
	return send(ctx, h, h.membership, membership{client: c, room: room, join: true})
}

func (h *Hub) Leave(ctx context.Context, c *Client, room model.RoomID) error {
	return send(ctx, h, h.membership, membership{client: c, room: room})
}

func (h *Hub) BroadcastToRoom(ctx context.Context, site model.SiteID, room model.RoomID, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not encode event: %w", err)
	}
	return send(ctx, h, h.broadcast, outbound{room: model.RoomKey{Site: site, Room: room}, payload: payload})
}

// BroadcastToChannel delivers to the sessions of site subscribed to the
// "channel_<id>" room.
func (h *Hub) BroadcastToChannel(ctx context.Context, site model.SiteID, channelID string, ev model.Event) error {
	return h.BroadcastToRoom(ctx, site, model.ChannelRoom(channelID), ev)
}

func send[T any](ctx context.Context, h *Hub, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}
