package internal

import (
	"log/slog"
	"net/http"

	"github.com/johndosdos/chatterd/internal/auth"
)

// Middleware validates the client's JWT and stores the identity it names in
// the request context.
func Middleware(next http.Handler, v auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.TokenFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := v.ValidateJWT(tok)
		if err != nil {
			slog.DebugContext(r.Context(), "rejected token",
				"error", err,
				"path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}
