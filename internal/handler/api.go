package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/chatterd/internal/auth"
	"github.com/johndosdos/chatterd/internal/model"
	"github.com/johndosdos/chatterd/internal/queue"
	"github.com/johndosdos/chatterd/internal/status"
)

// Reader is the read side of the coordinator exposed over HTTP.
type Reader interface {
	Pending(ctx context.Context, site model.SiteID, p model.Participant) ([]queue.QueuedMessage, int, error)
	MessageStatus(ctx context.Context, site model.SiteID, messageID uuid.UUID) (status.Record, error)
	IsOnline(site model.SiteID, p model.Participant) bool
	LastSeen(ctx context.Context, site model.SiteID, p model.Participant) (time.Time, bool, error)
}

type pendingResponse struct {
	Count    int                   `json:"count"`
	Messages []queue.QueuedMessage `json:"messages"`
}

type presenceResponse struct {
	Participant model.Participant `json:"participant"`
	Online      bool              `json:"online"`
	LastSeen    *time.Time        `json:"lastSeen,omitempty"`
}

// ServePending lists the caller's queued messages without draining them.
func ServePending(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.GetIdentityFromContext(r.Context())
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		msgs, n, err := rd.Pending(r.Context(), id.Site, id.Participant)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to list pending messages", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []queue.QueuedMessage{}
		}

		writeJSON(r.Context(), w, http.StatusOK, pendingResponse{Count: n, Messages: msgs})
	}
}

// ServeMessageStatus reports the aggregate and per-recipient status of a
// message in the caller's site.
func ServeMessageStatus(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.GetIdentityFromContext(r.Context())
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		messageID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid message id", http.StatusBadRequest)
			return
		}

		rec, err := rd.MessageStatus(r.Context(), id.Site, messageID)
		switch {
		case errors.Is(err, status.ErrNotFound):
			http.Error(w, "message not found", http.StatusNotFound)
			return
		case err != nil:
			slog.ErrorContext(r.Context(), "failed to load message status", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(r.Context(), w, http.StatusOK, rec)
	}
}

// ServePresence answers whether a participant of the caller's site is
// online, and when they were last seen otherwise.
func ServePresence(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.GetIdentityFromContext(r.Context())
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		p, err := model.ParseParticipant(chi.URLParam(r, "participant"))
		if err != nil {
			http.Error(w, "invalid participant", http.StatusBadRequest)
			return
		}

		resp := presenceResponse{Participant: p, Online: rd.IsOnline(id.Site, p)}
		if !resp.Online {
			seen, ok, err := rd.LastSeen(r.Context(), id.Site, p)
			if err != nil {
				slog.WarnContext(r.Context(), "failed to read last seen", "error", err)
			} else if ok {
				resp.LastSeen = &seen
			}
		}

		writeJSON(r.Context(), w, http.StatusOK, resp)
	}
}

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServeHealth returns 503 when any named dependency fails to answer.
func ServeHealth(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		code := http.StatusOK
		result := make(map[string]string, len(deps))
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				slog.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				result[name] = "down"
				code = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}

		writeJSON(r.Context(), w, code, result)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(ctx, "failed to write response", "error", err)
	}
}
