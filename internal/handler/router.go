package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/chatterd/internal"
	"github.com/johndosdos/chatterd/internal/auth"
	ratelimiter "github.com/johndosdos/chatterd/internal/rate_limiter"
	ws "github.com/johndosdos/chatterd/internal/websocket"
)

// Service is everything the HTTP surface needs from the coordinator.
type Service interface {
	ws.Coordinator
	Reader
}

type RouterConfig struct {
	Hub            *ws.Hub
	Service        Service
	Verifier       auth.Verifier
	Limiter        *ratelimiter.IPRateLimiter
	Limits         SessionLimits
	OriginPatterns []string
	Health         map[string]Pinger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", ServeHealth(cfg.Health))

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Use(func(next http.Handler) http.Handler {
			return internal.Middleware(next, cfg.Verifier)
		})

		r.Get("/ws", ServeWs(cfg.Hub, cfg.Service, cfg.Limits, cfg.OriginPatterns))
		r.Get("/queue/pending", ServePending(cfg.Service))
		r.Get("/messages/{id}/status", ServeMessageStatus(cfg.Service))
		r.Get("/presence/{participant}", ServePresence(cfg.Service))
	})

	return r
}
