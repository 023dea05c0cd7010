package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
)

type contextKey string

const userKey contextKey = "user"

// currentUser returns the authenticated account placed by the auth
// middleware, or nil on unauthenticated routes.
func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userKey).(*models.User)
	return user
}

// Recoverer converts panics into 500 responses instead of dropping the
// connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// tokenStore resolves an API token to its account.
type tokenStore interface {
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
}

// Auth authenticates requests by bearer token (or a bare token header) and
// stores the account in the request context.
func Auth(store tokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = r.Header.Get("Token")
			}
			if token == "" {
				respondError(w, http.StatusUnauthorized, "missing token")
				return
			}

			user, err := store.GetUserByToken(r.Context(), token)
			if err != nil {
				log.Error().Err(err).Msg("Token lookup failed")
				respondError(w, http.StatusInternalServerError, "authentication failed")
				return
			}
			if user == nil {
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
