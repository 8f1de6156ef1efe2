package gateway

import (
	"context"
	"sync"

	"github.com/johndosdos/chatterd/internal/model"
)

// Broadcast is one call observed by a Recorder.
type Broadcast struct {
	Site    model.SiteID
	Room    model.RoomID
	Channel string
	Event   model.Event
}

// Recorder is an in-memory Gateway that keeps every broadcast. It is used by
// tests and by single-node setups that only need an audit of pushes.
type Recorder struct {
	mu   sync.Mutex
	sent []Broadcast
	Err  error
}

func (r *Recorder) BroadcastToRoom(_ context.Context, site model.SiteID, room model.RoomID, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, Broadcast{Site: site, Room: room, Event: ev})
	return r.Err
}

func (r *Recorder) BroadcastToChannel(_ context.Context, site model.SiteID, channelID string, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, Broadcast{Site: site, Channel: channelID, Event: ev})
	return r.Err
}

// Sent returns a copy of the recorded broadcasts.
func (r *Recorder) Sent() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Broadcast, len(r.sent))
	copy(out, r.sent)
	return out
}

// Count returns how many broadcasts of the given event type were recorded.
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.sent {
		if b.Event.Type == eventType {
			n++
		}
	}
	return n
}

// Reset drops recorded broadcasts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = nil
}
