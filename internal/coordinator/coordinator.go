// Package coordinator ties typing, presence, queueing and message status
// together behind the operations the transport layer calls.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/model"
	"github.com/johndosdos/chatterd/internal/presence"
	"github.com/johndosdos/chatterd/internal/queue"
	"github.com/johndosdos/chatterd/internal/status"
	"github.com/johndosdos/chatterd/internal/typing"
)

// Drained is the payload of a queue:drained event.
type Drained struct {
	Count    int                   `json:"count"`
	Messages []queue.QueuedMessage `json:"messages"`
}

// Coordinator owns the stateful components of one process. Construct it
// with New and release it with Close.
type Coordinator struct {
	typing   *typing.Tracker
	presence *presence.Directory
	queue    *queue.Queue
	status   *status.Machine
	gw       gateway.Gateway
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Deps are the collaborators of a Coordinator. Nil stores fall back to
// in-memory ones.
type Deps struct {
	Gateway     gateway.Gateway
	QueueStore  queue.Store
	StatusStore status.Store
	LastSeen    presence.LastSeenStore
	Push        queue.PushNotifier
	Typing      typing.Config
	QueuePolicy queue.Policy
	Logger      *slog.Logger
}

func New(d Deps) *Coordinator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.QueueStore == nil {
		d.QueueStore = queue.NewMemoryStore()
	}
	if d.StatusStore == nil {
		d.StatusStore = status.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		typing:   typing.NewTracker(d.Gateway, d.Typing, logger.With("component", "typing")),
		presence: presence.NewDirectory(d.LastSeen, logger.With("component", "presence")),
		queue:    queue.New(d.QueueStore, d.Push, d.QueuePolicy, logger.With("component", "queue")),
		status:   status.NewMachine(d.StatusStore),
		gw:       d.Gateway,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartSweeper expires stale queue entries every interval until Close.
func (c *Coordinator) StartSweeper(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.queue.RunSweeper(c.ctx, interval)
	}()
}

// Close cancels every typing timer and stops the sweeper. Later calls are
// no-ops.
func (c *Coordinator) Close() {
	c.once.Do(func() {
		c.typing.Close()
		c.cancel()
		c.wg.Wait()
	})
}

// MessageSent accepts msg: it is tracked, marked sent and broadcast to its
// room. Online recipients are marked delivered; the rest are queued.
func (c *Coordinator) MessageSent(ctx context.Context, msg model.Message) (status.Record, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}
	recipients := recipientsOf(msg)

	if _, err := c.status.Track(ctx, msg.Site, msg.ID, msg.Room, recipients); err != nil {
		return status.Record{}, fmt.Errorf("track message: %w", err)
	}
	rec, _, err := c.status.MarkSent(ctx, msg.Site, msg.ID)
	if err != nil {
		return status.Record{}, fmt.Errorf("mark sent: %w", err)
	}

	c.presence.Touch(msg.Site, msg.Sender)
	gateway.Notify(ctx, c.gw, c.logger, msg.Site, msg.Room, model.Event{Type: model.EventMessageNew, Data: msg})

	for _, r := range recipients {
		if c.presence.IsOnline(msg.Site, r) {
			if next, ok := c.markDelivered(ctx, msg.Site, msg.ID, r); ok {
				rec = next
			}
			continue
		}

		_, err := c.queue.Enqueue(ctx, msg, r)
		if err != nil && !errors.Is(err, queue.ErrDuplicateQueueEntry) {
			return rec, fmt.Errorf("enqueue for %s: %w", r, err)
		}

		// The recipient may have connected and drained between the online
		// check and the insert.
		if c.presence.IsOnline(msg.Site, r) {
			if _, err := c.drain(ctx, msg.Site, r); err != nil {
				c.logger.WarnContext(ctx, "late drain failed", "error", err, "recipient", r.String())
			}
		}
	}

	if final, err := c.status.Get(ctx, msg.Site, msg.ID); err == nil {
		rec = final
	}
	c.notifyStatus(ctx, rec, nil)
	return rec, nil
}

// Connect registers session for p. On the first session the queue of p is
// drained and the drained entries are returned.
func (c *Coordinator) Connect(ctx context.Context, site model.SiteID, p model.Participant, session string) ([]queue.QueuedMessage, error) {
	if !c.presence.Register(site, p, session) {
		return nil, nil
	}

	gateway.Notify(ctx, c.gw, c.logger, site, model.SiteRoom(site), model.Event{
		Type: model.EventPresence,
		Data: model.PresenceUpdate{Participant: p, Online: true},
	})

	return c.drain(ctx, site, p)
}

// Disconnect removes session. When it was the last session of p, p is
// cleared from every typing room of site.
func (c *Coordinator) Disconnect(ctx context.Context, site model.SiteID, p model.Participant, session string) {
	if !c.presence.Unregister(ctx, site, p, session) {
		return
	}

	c.typing.HandleDisconnect(ctx, site, p)

	update := model.PresenceUpdate{Participant: p}
	if seen, ok, err := c.presence.LastSeen(ctx, site, p); err == nil && ok {
		update.LastSeen = seen
	}
	gateway.Notify(ctx, c.gw, c.logger, site, model.SiteRoom(site), model.Event{Type: model.EventPresence, Data: update})
}

// ReadReceipt marks messageID read by reader.
func (c *Coordinator) ReadReceipt(ctx context.Context, site model.SiteID, messageID uuid.UUID, reader model.Participant) (status.Record, error) {
	c.presence.Touch(site, reader)

	rec, changed, err := c.status.MarkRead(ctx, site, messageID, reader)
	if err != nil {
		return status.Record{}, err
	}
	if changed {
		c.notifyStatus(ctx, rec, &reader)
	}
	return rec, nil
}

// MessageFailed marks messageID failed. Queue entries are left alone; a
// failed message can still be retried.
func (c *Coordinator) MessageFailed(ctx context.Context, site model.SiteID, messageID uuid.UUID, reason string) (status.Record, error) {
	rec, changed, err := c.status.MarkFailed(ctx, site, messageID, reason)
	if err != nil {
		return status.Record{}, err
	}
	if changed {
		c.notifyStatus(ctx, rec, nil)
	}
	return rec, nil
}

// RetryMessage resets a failed message to pending and sends it again to the
// recipients that had not received it.
func (c *Coordinator) RetryMessage(ctx context.Context, site model.SiteID, messageID uuid.UUID) (status.Record, error) {
	rec, _, err := c.status.Retry(ctx, site, messageID)
	if err != nil {
		return status.Record{}, err
	}
	if rec, _, err = c.status.MarkSent(ctx, site, messageID); err != nil {
		return status.Record{}, err
	}

	for _, rs := range rec.Recipients {
		if rs.Status != status.Sent {
			continue
		}
		if c.presence.IsOnline(site, rs.Recipient) {
			c.markDelivered(ctx, site, messageID, rs.Recipient)
			continue
		}
		if _, err := c.queue.Retry(ctx, queue.Key{Site: site, Recipient: rs.Recipient, MessageID: messageID}); err != nil &&
			!errors.Is(err, queue.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to requeue message",
				"error", err,
				"message_id", messageID.String(),
				"recipient", rs.Recipient.String())
		}
	}

	if final, err := c.status.Get(ctx, site, messageID); err == nil {
		rec = final
	}
	c.notifyStatus(ctx, rec, nil)
	return rec, nil
}

func (c *Coordinator) TypingStart(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant, displayName, avatar string) {
	c.presence.Touch(site, p)
	c.typing.StartTyping(ctx, site, room, p, displayName, avatar)
}

func (c *Coordinator) TypingStop(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant) {
	c.typing.StopTyping(ctx, site, room, p)
}

func (c *Coordinator) TypingPreview(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant, displayName, content string) {
	c.typing.HandleTypingPreview(ctx, site, room, p, displayName, content)
}

// TypingUsers returns the current typing snapshot of room in site.
func (c *Coordinator) TypingUsers(site model.SiteID, room model.RoomID) []model.TypingUser {
	return c.typing.GetTypingUsers(site, room)
}

// Pending lists the queued entries of p without draining them.
func (c *Coordinator) Pending(ctx context.Context, site model.SiteID, p model.Participant) ([]queue.QueuedMessage, int, error) {
	list, err := c.queue.Pending(ctx, site, p)
	if err != nil {
		return nil, 0, err
	}
	n, err := c.queue.CountPending(ctx, site, p)
	if err != nil {
		return nil, 0, err
	}
	return list, n, nil
}

func (c *Coordinator) MessageStatus(ctx context.Context, site model.SiteID, messageID uuid.UUID) (status.Record, error) {
	return c.status.Get(ctx, site, messageID)
}

func (c *Coordinator) IsOnline(site model.SiteID, p model.Participant) bool {
	return c.presence.IsOnline(site, p)
}

func (c *Coordinator) Online(site model.SiteID) []model.Participant {
	return c.presence.ListOnline(site)
}

func (c *Coordinator) LastSeen(ctx context.Context, site model.SiteID, p model.Participant) (time.Time, bool, error) {
	return c.presence.LastSeen(ctx, site, p)
}

func (c *Coordinator) drain(ctx context.Context, site model.SiteID, p model.Participant) ([]queue.QueuedMessage, error) {
	drained, err := c.queue.Drain(ctx, site, p)
	if err != nil {
		return nil, err
	}
	if len(drained) == 0 {
		return nil, nil
	}

	for _, m := range drained {
		c.markDelivered(ctx, site, m.MessageID, p)
	}

	gateway.Notify(ctx, c.gw, c.logger, site, model.InboxRoom(site, p), model.Event{
		Type: model.EventQueueDrained,
		Data: Drained{Count: len(drained), Messages: drained},
	})
	return drained, nil
}

func (c *Coordinator) markDelivered(ctx context.Context, site model.SiteID, messageID uuid.UUID, p model.Participant) (status.Record, bool) {
	rec, changed, err := c.status.MarkDelivered(ctx, site, messageID, p)
	if err != nil {
		// Queue entries can outlive or predate their status record.
		c.logger.DebugContext(ctx, "skipped delivery status",
			"error", err,
			"message_id", messageID.String(),
			"recipient", p.String())
		return status.Record{}, false
	}
	if changed {
		c.notifyStatus(ctx, rec, &p)
	}
	return rec, true
}

func (c *Coordinator) notifyStatus(ctx context.Context, rec status.Record, recipient *model.Participant) {
	update := model.MessageStatusUpdate{
		MessageID: rec.MessageID,
		Room:      rec.Room,
		Status:    string(rec.Status),
		Recipient: recipient,
	}
	if recipient != nil {
		if rs, ok := rec.Recipient(*recipient); ok {
			update.Status = string(rs.Status)
		}
	}
	gateway.Notify(ctx, c.gw, c.logger, rec.Site, rec.Room, model.Event{Type: model.EventMessageStatus, Data: update})
}

func recipientsOf(msg model.Message) []model.Participant {
	out := make([]model.Participant, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		if r == msg.Sender {
			continue
		}
		out = append(out, r)
	}
	return out
}
