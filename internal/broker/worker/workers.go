// Package worker turns events received from other nodes into local
// broadcasts.
package worker

import (
	"context"
	"log/slog"

	"github.com/johndosdos/chatterd/internal/broker"
	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/model"
)

// Relay returns a broker handler that re-broadcasts remote events through
// local, normally the websocket hub.
func Relay(local gateway.Gateway, logger *slog.Logger) func(context.Context, broker.Envelope) {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, env broker.Envelope) {
		ev := model.Event{Type: env.Event.Type, Data: env.Event.Data}

		var err error
		switch {
		case env.Site == "":
			logger.WarnContext(ctx, "dropping event without site",
				"node", env.Node,
				"event_type", ev.Type)
			return
		case env.Channel != "":
			err = local.BroadcastToChannel(ctx, env.Site, env.Channel, ev)
		case env.Room != "":
			err = local.BroadcastToRoom(ctx, env.Site, env.Room, ev)
		default:
			logger.WarnContext(ctx, "dropping event without destination",
				"node", env.Node,
				"event_type", ev.Type)
			return
		}

		if err != nil {
			logger.WarnContext(ctx, "failed to relay remote event",
				"error", err,
				"node", env.Node,
				"event_type", ev.Type)
		}
	}
}
