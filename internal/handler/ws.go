package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/chatterd/internal/auth"
	ws "github.com/johndosdos/chatterd/internal/websocket"
)

// SessionLimits bound the inbound command rate of one websocket session.
type SessionLimits struct {
	Messages int
	Typing   int
	Window   time.Duration
}

// ServeWs handles the client's websocket connection upgrade. The identity
// comes from the auth middleware.
func ServeWs(h *ws.Hub, coord ws.Coordinator, limits SessionLimits, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := auth.GetIdentityFromContext(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     originPatterns,
			InsecureSkipVerify: len(originPatterns) == 0,
		})
		if err != nil {
			// Accept has already written the error response.
			slog.WarnContext(ctx, "failed to upgrade connection", "error", err)
			return
		}

		c := ws.NewClient(conn, h, id.Site, id.Participant, id.DisplayName, id.Avatar)
		if limits.Window > 0 {
			if limits.Messages > 0 {
				c.SetMessageLimiter(limits.Messages, limits.Window)
			}
			if limits.Typing > 0 {
				c.SetTypingLimiter(limits.Typing, limits.Window)
			}
		}

		slog.DebugContext(ctx, "upgraded connection",
			"participant", id.Participant.String(),
			"site", string(id.Site))

		// Serve blocks; the request context is cancelled once we return.
		if err := c.Serve(ctx, coord); err != nil {
			slog.WarnContext(ctx, "session ended early", "error", err)
		}
	}
}
