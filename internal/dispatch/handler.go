package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/events"
	"zapdesk/internal/models"
)

// connection contexts are re-read at most every few seconds; the gateway
// delivers bursts per session and the joined row rarely changes mid-burst.
const connCacheTTL = 10 * time.Second

// Handler is the dispatch boundary: it authenticates the gateway, runs the
// reconciler, and routes the enriched event to live clients and automation.
type Handler struct {
	store       Store
	rec         *Reconciler
	flood       *FloodAggregator
	forwarder   Forwarder
	broadcaster Broadcaster
	secret      string
	conns       *cache.Cache
}

// NewHandler wires the dispatch endpoint. secret may be empty, which
// disables the shared-secret check for local setups.
func NewHandler(store Store, rec *Reconciler, flood *FloodAggregator, forwarder Forwarder, broadcaster Broadcaster, secret string) *Handler {
	return &Handler{
		store:       store,
		rec:         rec,
		flood:       flood,
		forwarder:   forwarder,
		broadcaster: broadcaster,
		secret:      secret,
		conns:       cache.New(connCacheTTL, time.Minute),
	}
}

// Dispatch handles POST /dispatch.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get("X-Webhook-Secret") != h.secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
		return
	}

	var req events.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json payload"})
		return
	}
	if req.Connection == "" || req.Event == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "connection and event are required"})
		return
	}

	conn, err := h.connection(r, req.Connection)
	if err != nil {
		log.Error().Err(err).Str("connectionID", req.Connection).Msg("Connection lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "connection lookup failed"})
		return
	}
	if conn == nil {
		// Events for unknown sessions are acknowledged so the gateway
		// stops retrying them.
		writeJSON(w, http.StatusOK, events.Ignored("conexão não encontrada"))
		return
	}

	ev, err := h.rec.Reconcile(r.Context(), conn, &req)
	switch {
	case errors.Is(err, ErrDuplicateConnection):
		h.conns.Delete(conn.ID)
		h.broadcaster.Publish(recipientKeys(conn), ev)
		writeJSON(w, http.StatusConflict, ev)
		return
	case errors.Is(err, ErrMissingAddress):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload has no remoteJid"})
		return
	case err != nil:
		log.Error().Err(err).
			Str("connectionID", conn.ID).
			Str("event", req.Event).
			Msg("Event reconciliation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event processing failed"})
		return
	}

	if ev.IsIgnored() {
		writeJSON(w, http.StatusOK, ev)
		return
	}

	h.broadcaster.Publish(recipientKeys(conn), ev)

	switch ev.Event {
	case events.TypeConnectionUpdate:
		// Pairing rewrote the row, or close removed it; either way the
		// snapshot is stale.
		h.conns.Delete(conn.ID)
		h.forwarder.ForwardNow(r.Context(), ev)
	case events.TypeMessagesUpsert, events.TypeSendMessage:
		if ev.Chat != nil {
			h.flood.Append(conn.ID, ev.Chat.ContatoNumero, ev)
		}
	}

	writeJSON(w, http.StatusOK, ev)
}

// connection resolves the joined connection row, caching a snapshot briefly.
// Every caller gets its own copy; the reconciler mutates the connection while
// a concurrent request for the same session may be encoding it.
func (h *Handler) connection(r *http.Request, id string) (*models.Connection, error) {
	if cached, ok := h.conns.Get(id); ok {
		conn := cached.(models.Connection)
		return &conn, nil
	}
	conn, err := h.store.GetConnectionFull(r.Context(), id)
	if err != nil || conn == nil {
		return conn, err
	}
	h.conns.SetDefault(id, *conn)
	return conn, nil
}

// recipientKeys routes an event to the owning admin and to attendants scoped
// to the connection.
func recipientKeys(conn *models.Connection) []string {
	return []string{conn.UserID, "connection:" + conn.ID}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
