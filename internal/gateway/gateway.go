// Package gateway defines the broadcast boundary used to push events to
// connected sessions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/johndosdos/chatterd/internal/model"
)

// ErrGatewayUnavailable is returned when an event could not be pushed.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// Gateway pushes events to every session of site subscribed to a room or
// channel. Sessions of other sites never see the event, even when they
// joined a room of the same name.
type Gateway interface {
	BroadcastToRoom(ctx context.Context, site model.SiteID, room model.RoomID, ev model.Event) error
	BroadcastToChannel(ctx context.Context, site model.SiteID, channelID string, ev model.Event) error
}

// Route sends ev to room of site, using the channel broadcast for
// "channel_<id>" rooms.
func Route(ctx context.Context, g Gateway, site model.SiteID, room model.RoomID, ev model.Event) error {
	if room.IsChannel() {
		return g.BroadcastToChannel(ctx, site, room.ChannelID(), ev)
	}
	return g.BroadcastToRoom(ctx, site, room, ev)
}

// Notify routes ev and logs any failure. Local state is never rolled back
// because a push failed.
func Notify(ctx context.Context, g Gateway, logger *slog.Logger, site model.SiteID, room model.RoomID, ev model.Event) {
	if g == nil {
		return
	}
	if err := Route(ctx, g, site, room, ev); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "failed to broadcast event",
			"error", err,
			"site", string(site),
			"room", string(room),
			"event_type", ev.Type)
	}
}

// Fanout broadcasts to several gateways and joins their errors.
type Fanout []Gateway

func (f Fanout) BroadcastToRoom(ctx context.Context, site model.SiteID, room model.RoomID, ev model.Event) error {
	var errs []error
	for _, g := range f {
		if err := g.BroadcastToRoom(ctx, site, room, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return wrap(errs)
}

func (f Fanout) BroadcastToChannel(ctx context.Context, site model.SiteID, channelID string, ev model.Event) error {
	var errs []error
	for _, g := range f {
		if err := g.BroadcastToChannel(ctx, site, channelID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return wrap(errs)
}

func wrap(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, errors.Join(errs...))
}
