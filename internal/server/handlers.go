package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/events"
	"zapdesk/internal/gateway"
	"zapdesk/internal/models"
)

// Connections ---------------------------------------------------------------

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	conns, err := s.store.ListConnectionsByUser(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connections")
		respondError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	respondJSON(w, http.StatusOK, conns)
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var body struct {
		Nome     string  `json:"nome"`
		AgenteID *string `json:"agente_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Nome == "" {
		respondError(w, http.StatusBadRequest, "nome is required")
		return
	}

	conn := &models.Connection{UserID: user.ID, Nome: body.Nome, AgenteID: body.AgenteID}
	if err := s.store.CreateConnection(r.Context(), conn); err != nil {
		log.Error().Err(err).Msg("Failed to create connection")
		respondError(w, http.StatusInternalServerError, "failed to create connection")
		return
	}

	// The record is only useful if the gateway session exists; roll back
	// when instance creation fails.
	if err := s.gw.CreateInstance(r.Context(), conn.ID); err != nil {
		log.Error().Err(err).Str("connectionID", conn.ID).Msg("Gateway instance creation failed")
		if derr := s.store.DeleteConnection(r.Context(), conn.ID); derr != nil {
			log.Error().Err(derr).Str("connectionID", conn.ID).Msg("Rollback of connection failed")
		}
		respondError(w, http.StatusBadGateway, "gateway instance creation failed")
		return
	}

	respondJSON(w, http.StatusCreated, conn)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	conn, ok := s.ownedConnection(w, r, user)
	if !ok {
		return
	}

	var body struct {
		Nome     *string `json:"nome"`
		AgenteID *string `json:"agente_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	if body.Nome != nil {
		conn.Nome = *body.Nome
	}
	if body.AgenteID != nil {
		conn.AgenteID = body.AgenteID
	}

	if err := s.store.UpdateConnection(r.Context(), conn); err != nil {
		log.Error().Err(err).Msg("Failed to update connection")
		respondError(w, http.StatusInternalServerError, "failed to update connection")
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	conn, ok := s.ownedConnection(w, r, user)
	if !ok {
		return
	}

	if err := s.gw.DeleteInstance(r.Context(), conn.ID); err != nil {
		log.Warn().Err(err).Str("connectionID", conn.ID).Msg("Gateway instance deletion failed, removing record anyway")
	}
	if err := s.store.DeleteAttendantsByConnection(r.Context(), conn.ID); err != nil {
		log.Error().Err(err).Msg("Failed to cascade attendants")
		respondError(w, http.StatusInternalServerError, "failed to delete connection")
		return
	}
	if err := s.store.DeleteConnection(r.Context(), conn.ID); err != nil {
		log.Error().Err(err).Msg("Failed to delete connection")
		respondError(w, http.StatusInternalServerError, "failed to delete connection")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": conn.ID})
}

// ownedConnection loads the path connection and enforces ownership.
func (s *Server) ownedConnection(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Connection, bool) {
	conn, err := s.store.GetConnectionFull(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		log.Error().Err(err).Msg("Connection lookup failed")
		respondError(w, http.StatusInternalServerError, "connection lookup failed")
		return nil, false
	}
	if conn == nil || conn.UserID != user.ID {
		respondError(w, http.StatusNotFound, "connection not found")
		return nil, false
	}
	return conn, true
}

// Chats ---------------------------------------------------------------------

type chatWithLast struct {
	models.Chat
	LastMessage *models.Message `json:"last_message,omitempty"`
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	chats, err := s.store.ListChatsByUser(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list chats")
		respondError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	out := make([]chatWithLast, 0, len(chats))
	for _, chat := range chats {
		last, err := s.store.GetLastChatMessage(r.Context(), chat.ID)
		if err != nil {
			log.Warn().Err(err).Str("chatID", chat.ID).Msg("Last message lookup failed")
		}
		out = append(out, chatWithLast{Chat: chat, LastMessage: last})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) updateChat(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}

	var body struct {
		ContatoNome *string `json:"contato_nome"`
		IAAtiva     *bool   `json:"ia_ativa"`
		Status      *string `json:"status"`
		AtendenteID *string `json:"atendente_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	if body.IAAtiva != nil && *body.IAAtiva != chat.IAAtiva {
		if err := s.store.SetChatAutomation(r.Context(), chat.ID, *body.IAAtiva); err != nil {
			log.Error().Err(err).Msg("Failed to toggle automation")
			respondError(w, http.StatusInternalServerError, "failed to update chat")
			return
		}
		chat.IAAtiva = *body.IAAtiva
		if *body.IAAtiva {
			chat.IADesativadaEm = nil
		} else {
			now := time.Now().UTC()
			chat.IADesativadaEm = &now
		}
	}
	if body.ContatoNome != nil {
		chat.ContatoNome = *body.ContatoNome
	}
	if body.Status != nil {
		chat.Status = *body.Status
	}
	if body.AtendenteID != nil {
		chat.AtendenteID = body.AtendenteID
	}

	if err := s.store.UpdateChat(r.Context(), chat); err != nil {
		log.Error().Err(err).Msg("Failed to update chat")
		respondError(w, http.StatusInternalServerError, "failed to update chat")
		return
	}
	respondJSON(w, http.StatusOK, chat)
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteChat(r.Context(), chat.ID); err != nil {
		log.Error().Err(err).Msg("Failed to delete chat")
		respondError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": chat.ID})
}

func (s *Server) markChatRead(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}

	unread, err := s.store.ListUnreadContactMessages(r.Context(), chat.ID, chat.ConnectionID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unread messages")
		respondError(w, http.StatusInternalServerError, "failed to mark chat read")
		return
	}

	if len(unread) > 0 {
		keys := make([]gateway.ReadKey, 0, len(unread))
		for _, m := range unread {
			keys = append(keys, gateway.ReadKey{
				RemoteJID: chat.ContatoNumero + "@s.whatsapp.net",
				ID:        m.ID,
			})
		}
		if err := s.gw.MarkMessagesRead(r.Context(), chat.ConnectionID, keys); err != nil {
			log.Warn().Err(err).Str("chatID", chat.ID).Msg("Gateway read receipt failed")
		}
	}

	if err := s.store.UpsertChatRead(r.Context(), chat.ID, chat.ConnectionID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to store read marker")
		respondError(w, http.StatusInternalServerError, "failed to mark chat read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"marked": len(unread)})
}

func (s *Server) refreshChatPhoto(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}

	url, err := s.gw.ProfilePictureURL(r.Context(), chat.ConnectionID, chat.ContatoNumero)
	if err != nil {
		log.Warn().Err(err).Str("chatID", chat.ID).Msg("Profile picture refresh failed")
		respondError(w, http.StatusBadGateway, "profile picture fetch failed")
		return
	}

	var photo *string
	if url != "" {
		photo = &url
	}
	if err := s.store.SetChatPhoto(r.Context(), chat.ID, photo); err != nil {
		log.Error().Err(err).Msg("Failed to store chat photo")
		respondError(w, http.StatusInternalServerError, "failed to store chat photo")
		return
	}
	chat.FotoPerfil = photo
	respondJSON(w, http.StatusOK, chat)
}

func (s *Server) loadChat(w http.ResponseWriter, r *http.Request) (*models.Chat, bool) {
	chat, err := s.store.GetChat(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		log.Error().Err(err).Msg("Chat lookup failed")
		respondError(w, http.StatusInternalServerError, "chat lookup failed")
		return nil, false
	}
	if chat == nil {
		respondError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	return chat, true
}

// Messages ------------------------------------------------------------------

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.ListMessagesByChat(r.Context(), chat.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list messages")
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	conn, err := s.store.GetConnectionFull(r.Context(), chat.ConnectionID)
	if err != nil || conn == nil {
		log.Error().Err(err).Str("chatID", chat.ID).Msg("Connection lookup failed for send")
		respondError(w, http.StatusInternalServerError, "connection lookup failed")
		return
	}

	providerID, err := s.gw.SendText(r.Context(), conn.ID, chat.ContatoNumero, body.Text)
	if err != nil {
		log.Error().Err(err).Str("chatID", chat.ID).Msg("Gateway send failed")
		respondError(w, http.StatusBadGateway, "message delivery failed")
		return
	}

	// Sending by hand is a human takeover.
	if chat.IAAtiva {
		if err := s.store.SetChatAutomation(r.Context(), chat.ID, false); err != nil {
			log.Warn().Err(err).Str("chatID", chat.ID).Msg("Failed to disable automation on send")
		} else {
			chat.IAAtiva = false
			now := time.Now().UTC()
			chat.IADesativadaEm = &now
		}
	}

	msg := &models.Message{
		ID:        providerID,
		ChatID:    chat.ID,
		Remetente: models.SenderUser,
		Mensagem:  &body.Text,
		CriadoEm:  time.Now().UTC(),
	}
	if providerID != "" {
		// The gateway echoes this send through the dispatch pipeline under
		// the same id, so both upserts land on one row.
		stored, err := s.store.UpsertMessage(r.Context(), msg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to persist sent message")
			respondError(w, http.StatusInternalServerError, "failed to persist message")
			return
		}
		msg = stored
	} else {
		// No id in the gateway reply; the echoed webhook persists the row.
		msg.ID = uuid.NewString()
	}

	s.broadcaster.Publish(
		[]string{conn.UserID, "connection:" + conn.ID},
		&events.Enriched{Event: events.TypeSendMessage, Connection: conn, Chat: chat, Message: msg},
	)
	respondJSON(w, http.StatusCreated, msg)
}

// Attendants ----------------------------------------------------------------

func (s *Server) listAttendants(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	atts, err := s.store.ListAttendantsByAdmin(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list attendants")
		respondError(w, http.StatusInternalServerError, "failed to list attendants")
		return
	}
	respondJSON(w, http.StatusOK, atts)
}

func (s *Server) createAttendant(w http.ResponseWriter, r *http.Request) {
	admin := currentUser(r)

	var body struct {
		Nome         string  `json:"nome"`
		Email        string  `json:"email"`
		Numero       *string `json:"numero"`
		ConnectionID string  `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Nome == "" || body.Email == "" || body.ConnectionID == "" {
		respondError(w, http.StatusBadRequest, "nome, email and connection_id are required")
		return
	}

	token := uuid.NewString()
	account := &models.User{
		Email:              body.Email,
		Nome:               body.Nome,
		TipoDeUsuario:      models.UserTypeAttendant,
		Numero:             body.Numero,
		Token:              &token,
		NotificacoesAtivas: true,
	}
	if err := s.store.CreateUser(r.Context(), account); err != nil {
		log.Error().Err(err).Msg("Failed to create attendant user")
		respondError(w, http.StatusInternalServerError, "failed to create attendant")
		return
	}

	att := &models.Attendant{
		UserAdminID:  admin.ID,
		UserID:       account.ID,
		ConnectionID: body.ConnectionID,
	}
	if err := s.store.CreateAttendant(r.Context(), att); err != nil {
		log.Error().Err(err).Msg("Failed to create attendant")
		respondError(w, http.StatusInternalServerError, "failed to create attendant")
		return
	}

	// The token is returned once, at creation.
	respondJSON(w, http.StatusCreated, map[string]any{
		"attendant": att,
		"user":      account,
		"token":     token,
	})
}

func (s *Server) deleteAttendant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteAttendant(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("Failed to delete attendant")
		respondError(w, http.StatusInternalServerError, "failed to delete attendant")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// Agents --------------------------------------------------------------------

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list agents")
		respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil || agent.TipoDeAgente == "" {
		respondError(w, http.StatusBadRequest, "tipo_de_agente is required")
		return
	}
	agent.ID = ""
	if err := s.store.CreateAgent(r.Context(), &agent); err != nil {
		log.Error().Err(err).Msg("Failed to create agent")
		respondError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	agent.ID = mux.Vars(r)["id"]
	if err := s.store.UpdateAgent(r.Context(), &agent); err != nil {
		log.Error().Err(err).Msg("Failed to update agent")
		respondError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteAgent(r.Context(), id); err != nil {
		log.Error().Err(err).Msg("Failed to delete agent")
		respondError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// Users ---------------------------------------------------------------------

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		log.Error().Err(err).Msg("User lookup failed")
		respondError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		log.Error().Err(err).Msg("User lookup failed")
		respondError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	var body struct {
		Email              *string `json:"email"`
		Nome               *string `json:"nome"`
		Numero             *string `json:"numero"`
		FotoPerfil         *string `json:"foto_perfil"`
		AITriggerWord      *string `json:"ai_trigger_word"`
		NotificacoesAtivas *bool   `json:"notificacoes_ativas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	if body.Email != nil {
		user.Email = *body.Email
	}
	if body.Nome != nil {
		user.Nome = *body.Nome
	}
	if body.Numero != nil {
		user.Numero = body.Numero
	}
	if body.FotoPerfil != nil {
		user.FotoPerfil = body.FotoPerfil
	}
	if body.AITriggerWord != nil {
		user.AITriggerWord = body.AITriggerWord
	}
	if body.NotificacoesAtivas != nil {
		user.NotificacoesAtivas = *body.NotificacoesAtivas
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		log.Error().Err(err).Msg("Failed to update user")
		respondError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Metrics -------------------------------------------------------------------

func (s *Server) chatMetrics(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	total, err := s.store.CountChatsSince(r.Context(), user.ID, "", since)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count chats")
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	closed, err := s.store.CountChatsSince(r.Context(), user.ID, models.ChatStatusClose, since)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count closed chats")
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"days":   days,
		"total":  total,
		"closed": closed,
		"open":   total - closed,
	})
}
