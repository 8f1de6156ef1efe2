// Package presence tracks which participants are connected and through how
// many sessions.
package presence

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/johndosdos/chatterd/internal/model"
)

type identity struct {
	site        model.SiteID
	participant model.Participant
}

type entry struct {
	sessions map[string]struct{}
	lastSeen time.Time
}

// Directory is the live presence map. Offline participants are not kept in
// memory; their last-seen time is handed to a LastSeenStore.
type Directory struct {
	mu       sync.RWMutex
	entries  map[identity]*entry
	lastSeen LastSeenStore
	lookups  singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
}

// NewDirectory returns an empty Directory. A nil store keeps last-seen
// times in memory.
func NewDirectory(store LastSeenStore, logger *slog.Logger) *Directory {
	if store == nil {
		store = NewMemoryLastSeen()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{
		entries:  make(map[identity]*entry),
		lastSeen: store,
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds session to p's live sessions. It reports whether this is the
// first session, i.e. p just came online.
func (d *Directory) Register(site model.SiteID, p model.Participant, session string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := identity{site: site, participant: p}
	e, ok := d.entries[id]
	if !ok {
		e = &entry{sessions: make(map[string]struct{})}
		d.entries[id] = e
	}
	e.sessions[session] = struct{}{}
	e.lastSeen = d.now()

	return !ok
}

// Unregister removes one session of p. It reports whether it was the last
// one, in which case p is demoted to a last-seen record.
func (d *Directory) Unregister(ctx context.Context, site model.SiteID, p model.Participant, session string) bool {
	d.mu.Lock()

	id := identity{site: site, participant: p}
	e, ok := d.entries[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if _, ok := e.sessions[session]; !ok {
		d.mu.Unlock()
		return false
	}

	delete(e.sessions, session)
	e.lastSeen = d.now()
	if len(e.sessions) > 0 {
		d.mu.Unlock()
		return false
	}

	delete(d.entries, id)
	seen := e.lastSeen
	d.mu.Unlock()

	if err := d.lastSeen.SetLastSeen(ctx, site, p, seen); err != nil {
		d.logger.WarnContext(ctx, "failed to store last seen",
			"error", err,
			"site", string(site),
			"participant", p.String())
	}

	return true
}

// Touch records activity for an online participant. It is a no-op for
// offline participants.
func (d *Directory) Touch(site model.SiteID, p model.Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[identity{site: site, participant: p}]; ok {
		e.lastSeen = d.now()
	}
}

// IsOnline reports whether p has at least one live session in site.
func (d *Directory) IsOnline(site model.SiteID, p model.Participant) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.entries[identity{site: site, participant: p}]
	return ok
}

// SessionCount returns the number of live sessions of p.
func (d *Directory) SessionCount(site model.SiteID, p model.Participant) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if e, ok := d.entries[identity{site: site, participant: p}]; ok {
		return len(e.sessions)
	}
	return 0
}

// ListOnline returns the online participants of site, sorted. An empty site
// lists every site.
func (d *Directory) ListOnline(site model.SiteID) []model.Participant {
	d.mu.RLock()
	out := make([]model.Participant, 0, len(d.entries))
	for id := range d.entries {
		if site != "" && id.site != site {
			continue
		}
		out = append(out, id.participant)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Participant) int {
		return cmp.Compare(a.String(), b.String())
	})
	return slices.Compact(out)
}

type lastSeenResult struct {
	at time.Time
	ok bool
}

// LastSeen returns when p was last active. Online participants answer from
// memory; concurrent lookups of the same offline participant share one
// store read.
func (d *Directory) LastSeen(ctx context.Context, site model.SiteID, p model.Participant) (time.Time, bool, error) {
	d.mu.RLock()
	e, ok := d.entries[identity{site: site, participant: p}]
	var seen time.Time
	if ok {
		seen = e.lastSeen
	}
	d.mu.RUnlock()

	if ok {
		return seen, true, nil
	}

	v, err, _ := d.lookups.Do(string(site)+"/"+p.String(), func() (any, error) {
		at, ok, err := d.lastSeen.GetLastSeen(ctx, site, p)
		return lastSeenResult{at: at, ok: ok}, err
	})
	if err != nil {
		return time.Time{}, false, err
	}
	res := v.(lastSeenResult)
	return res.at, res.ok, nil
}
