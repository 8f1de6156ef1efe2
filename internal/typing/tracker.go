// Package typing tracks who is currently typing in each room and broadcasts
// throttled snapshots of that state.
package typing

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/model"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultThrottle = time.Second
)

// Config controls auto-clear and broadcast spacing.
type Config struct {
	// Timeout is how long a participant stays in the typing state without
	// a fresh start event.
	Timeout time.Duration
	// Throttle is the minimum spacing between broadcasts caused by the same
	// (site, room, participant).
	Throttle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Throttle <= 0 {
		c.Throttle = DefaultThrottle
	}
	return c
}

type key struct {
	room        model.RoomKey
	participant model.Participant
}

type entry struct {
	user      model.TypingUser
	startedAt time.Time
	updatedAt time.Time
	timer     *time.Timer
	gen       uint64
}

type snapshot struct {
	room  model.RoomKey
	users []model.TypingUser
}

// Tracker holds per-room typing state. Rooms are scoped by site: the same
// room name on two sites is two unrelated rooms. All methods are safe for
// concurrent use.
type Tracker struct {
	cfg       Config
	gw        gateway.Gateway
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
	now       func() time.Time

	// mu guards state. sendMu is taken before mu is released so broadcasts
	// leave in the same order as the mutations that produced them.
	mu        sync.Mutex
	sendMu    sync.Mutex
	rooms     map[model.RoomKey]map[model.Participant]*entry
	throttles map[key]*rate.Limiter
	gen       uint64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTracker returns a Tracker that broadcasts through gw.
func NewTracker(gw gateway.Gateway, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		cfg:       cfg.withDefaults(),
		gw:        gw,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		now:       time.Now,
		rooms:     make(map[model.RoomKey]map[model.Participant]*entry),
		throttles: make(map[key]*rate.Limiter),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartTyping records that p is typing in room of site. The auto-clear
// timer is always reset; the snapshot is only broadcast when the throttle
// window for (site, room, p) has elapsed.
func (t *Tracker) StartTyping(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant, displayName, avatar string) {
	rk := model.RoomKey{Site: site, Room: room}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	now := t.now()
	entries, ok := t.rooms[rk]
	if !ok {
		entries = make(map[model.Participant]*entry)
		t.rooms[rk] = entries
	}

	e, ok := entries[p]
	if !ok {
		e = &entry{startedAt: now}
		entries[p] = e
	}
	e.user = model.TypingUser{
		Kind:        p.Kind,
		ID:          p.ID,
		DisplayName: displayName,
		Avatar:      avatar,
	}
	e.updatedAt = now
	t.scheduleClear(rk, p, e)

	k := key{room: rk, participant: p}
	lim, ok := t.throttles[k]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.cfg.Throttle), 1)
		t.throttles[k] = lim
	}
	if !lim.AllowN(now, 1) {
		t.mu.Unlock()
		return
	}

	snap := t.snapshotLocked(rk)
	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	t.broadcast(ctx, snap)
}

// StopTyping removes p from room of site and broadcasts the resulting
// snapshot. The snapshot is broadcast even when p had no state so clients
// that missed an earlier update resynchronise.
func (t *Tracker) StopTyping(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant) {
	rk := model.RoomKey{Site: site, Room: room}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	t.removeLocked(rk, p)
	snap := t.snapshotLocked(rk)
	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	t.broadcast(ctx, snap)
}

// GetTypingUsers returns the users typing in room of site ordered by when
// they started typing.
func (t *Tracker) GetTypingUsers(site model.SiteID, room model.RoomID) []model.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshotLocked(model.RoomKey{Site: site, Room: room}).users
}

// HandleDisconnect removes p from every room of site it is typing in and
// broadcasts one snapshot per affected room. Rooms of other sites are left
// alone.
func (t *Tracker) HandleDisconnect(ctx context.Context, site model.SiteID, p model.Participant) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	var snaps []snapshot
	for room, entries := range t.rooms {
		if room.Site != site {
			continue
		}
		if _, ok := entries[p]; !ok {
			continue
		}
		t.removeLocked(room, p)
		snaps = append(snaps, t.snapshotLocked(room))
	}

	if len(snaps) == 0 {
		t.mu.Unlock()
		return
	}

	slices.SortFunc(snaps, func(a, b snapshot) int { return cmp.Compare(a.room.Room, b.room.Room) })

	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	for _, s := range snaps {
		t.broadcast(ctx, s)
	}
}

// HandleTypingPreview pushes the sanitised live draft of p to room of site.
// Previews bypass the throttle and never touch typing state.
func (t *Tracker) HandleTypingPreview(ctx context.Context, site model.SiteID, room model.RoomID, p model.Participant, displayName, content string) {
	gateway.Notify(ctx, t.gw, t.logger, site, room, model.Event{
		Type: model.EventTypingPreview,
		Data: model.TypingPreview{
			Room:        room,
			Participant: p,
			DisplayName: displayName,
			Content:     t.sanitizer.Sanitize(content),
		},
	})
}

// Close cancels every pending auto-clear timer and drops all state.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.cancel()

	for _, entries := range t.rooms {
		for _, e := range entries {
			e.timer.Stop()
		}
	}
	clear(t.rooms)
	clear(t.throttles)
}

// scheduleClear replaces the auto-clear timer of e. The callback only acts
// when its generation still matches, so a timer that already fired but lost
// the race for mu is a no-op.
func (t *Tracker) scheduleClear(room model.RoomKey, p model.Participant, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}

	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = time.AfterFunc(t.cfg.Timeout, func() {
		t.expire(room, p, gen)
	})
}

func (t *Tracker) expire(room model.RoomKey, p model.Participant, gen uint64) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	e, ok := t.rooms[room][p]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}

	t.removeLocked(room, p)
	snap := t.snapshotLocked(room)
	t.sendMu.Lock()
	t.mu.Unlock()
	defer t.sendMu.Unlock()

	t.logger.Debug("typing state expired",
		"site", string(room.Site),
		"room", string(room.Room),
		"participant", p.String())
	t.broadcast(t.ctx, snap)
}

func (t *Tracker) removeLocked(room model.RoomKey, p model.Participant) {
	delete(t.throttles, key{room: room, participant: p})

	entries, ok := t.rooms[room]
	if !ok {
		return
	}
	if e, ok := entries[p]; ok {
		e.timer.Stop()
		delete(entries, p)
	}
	if len(entries) == 0 {
		delete(t.rooms, room)
	}
}

func (t *Tracker) snapshotLocked(room model.RoomKey) snapshot {
	entries := t.rooms[room]
	ordered := make([]*entry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, func(a, b *entry) int {
		if c := a.startedAt.Compare(b.startedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.user.Participant().String(), b.user.Participant().String())
	})

	users := make([]model.TypingUser, 0, len(ordered))
	for _, e := range ordered {
		users = append(users, e.user)
	}
	return snapshot{room: room, users: users}
}

func (t *Tracker) broadcast(ctx context.Context, s snapshot) {
	gateway.Notify(ctx, t.gw, t.logger, s.room.Site, s.room.Room, model.Event{
		Type: model.EventTypingState,
		Data: model.TypingState{
			Room:  s.room.Room,
			Users: s.users,
			Text:  FormatTypingText(s.users),
		},
	})
}
