package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/db"
	"zapdesk/internal/dispatch"
	"zapdesk/internal/fanout"
	"zapdesk/internal/gateway"
)

// Server owns the HTTP surface: the dispatch endpoint, the event stream and
// the thin management API.
type Server struct {
	store       *db.Store
	gw          *gateway.Client
	broadcaster *fanout.Broadcaster
	dispatch    *dispatch.Handler
	sse         *fanout.SSEHandler
	http        *http.Server
}

// New assembles the server on the given port.
func New(port string, store *db.Store, gw *gateway.Client, broadcaster *fanout.Broadcaster, dispatchHandler *dispatch.Handler, sseHandler *fanout.SSEHandler) *Server {
	s := &Server{
		store:       store,
		gw:          gw,
		broadcaster: broadcaster,
		dispatch:    dispatchHandler,
		sse:         sseHandler,
	}
	s.http = &http.Server{
		Addr:    ":" + port,
		Handler: s.Router(),
		// No WriteTimeout: the event stream stays open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	base := alice.New(Recoverer, RequestLogger)
	authed := base.Append(Auth(s.store))

	// Machine-facing surface; authenticated by shared secret and stream
	// token respectively.
	r.Handle("/dispatch", base.ThenFunc(s.dispatch.Dispatch)).Methods(http.MethodPost)
	r.Handle("/events/{viewerID}", base.ThenFunc(s.sse.Events)).Methods(http.MethodGet)

	r.Handle("/connections", authed.ThenFunc(s.listConnections)).Methods(http.MethodGet)
	r.Handle("/connections", authed.ThenFunc(s.createConnection)).Methods(http.MethodPost)
	r.Handle("/connections/{id}", authed.ThenFunc(s.updateConnection)).Methods(http.MethodPut)
	r.Handle("/connections/{id}", authed.ThenFunc(s.deleteConnection)).Methods(http.MethodDelete)

	r.Handle("/chats", authed.ThenFunc(s.listChats)).Methods(http.MethodGet)
	r.Handle("/chats/{id}", authed.ThenFunc(s.updateChat)).Methods(http.MethodPut)
	r.Handle("/chats/{id}", authed.ThenFunc(s.deleteChat)).Methods(http.MethodDelete)
	r.Handle("/chats/{id}/read", authed.ThenFunc(s.markChatRead)).Methods(http.MethodPost)
	r.Handle("/chats/{id}/photo", authed.ThenFunc(s.refreshChatPhoto)).Methods(http.MethodPost)
	r.Handle("/chats/{id}/messages", authed.ThenFunc(s.listMessages)).Methods(http.MethodGet)
	r.Handle("/chats/{id}/messages", authed.ThenFunc(s.sendMessage)).Methods(http.MethodPost)

	r.Handle("/attendants", authed.ThenFunc(s.listAttendants)).Methods(http.MethodGet)
	r.Handle("/attendants", authed.ThenFunc(s.createAttendant)).Methods(http.MethodPost)
	r.Handle("/attendants/{id}", authed.ThenFunc(s.deleteAttendant)).Methods(http.MethodDelete)

	r.Handle("/agents", authed.ThenFunc(s.listAgents)).Methods(http.MethodGet)
	r.Handle("/agents", authed.ThenFunc(s.createAgent)).Methods(http.MethodPost)
	r.Handle("/agents/{id}", authed.ThenFunc(s.updateAgent)).Methods(http.MethodPut)
	r.Handle("/agents/{id}", authed.ThenFunc(s.deleteAgent)).Methods(http.MethodDelete)

	r.Handle("/users/{id}", authed.ThenFunc(s.getUser)).Methods(http.MethodGet)
	r.Handle("/users/{id}", authed.ThenFunc(s.updateUser)).Methods(http.MethodPut)

	r.Handle("/metrics/chats", authed.ThenFunc(s.chatMetrics)).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return r
}

// Run blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	log.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
