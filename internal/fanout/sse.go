package fanout

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Authorizer maps a viewer's credentials to their recipient key, or "" when
// the credentials are invalid.
type Authorizer interface {
	AuthorizeViewer(ctx context.Context, viewerID, token string) (string, error)
}

// SSEHandler serves the live event stream over Server-Sent Events.
type SSEHandler struct {
	broadcaster *Broadcaster
	auth        Authorizer
	heartbeat   time.Duration
}

// NewSSEHandler builds the handler. heartbeat is the interval between
// comment frames that keep proxies from closing idle streams.
func NewSSEHandler(broadcaster *Broadcaster, auth Authorizer, heartbeat time.Duration) *SSEHandler {
	return &SSEHandler{broadcaster: broadcaster, auth: auth, heartbeat: heartbeat}
}

// Events handles GET /events/{viewerID}?token=...
func (h *SSEHandler) Events(w http.ResponseWriter, r *http.Request) {
	viewerID := mux.Vars(r)["viewerID"]
	token := r.URL.Query().Get("token")

	key, err := h.auth.AuthorizeViewer(r.Context(), viewerID, token)
	if err != nil {
		log.Error().Err(err).Str("viewerID", viewerID).Msg("Viewer authorization failed")
		http.Error(w, "authorization failed", http.StatusInternalServerError)
		return
	}
	if key == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broadcaster.Subscribe(key)
	defer h.broadcaster.Unsubscribe(sub)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	log.Info().Str("viewerID", viewerID).Str("key", key).Msg("Event stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("viewerID", viewerID).Msg("Event stream closed by client")
			return
		case data, open := <-sub.Events():
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
