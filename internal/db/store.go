package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zapdesk/internal/models"
)

// Connection queries -------------------------------------------------------

// GetConnectionFull loads a connection with its owner and linked agent.
// Returns (nil, nil) when the connection does not exist.
func (s *Store) GetConnectionFull(ctx context.Context, id string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.GetContext(ctx, &conn, s.db.Rebind(
		`SELECT id, user_id, nome, numero, status, agente_id FROM connections WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	user, err := s.GetUser(ctx, conn.UserID)
	if err != nil {
		return nil, err
	}
	conn.User = user

	if conn.AgenteID != nil {
		var agent models.Agent
		err = s.db.GetContext(ctx, &agent, s.db.Rebind(
			`SELECT id, tipo_de_agente, descricao, prompt_do_agente FROM agents WHERE id = ?`), *conn.AgenteID)
		if err == nil {
			conn.Agente = &agent
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get agent: %w", err)
		}
	}

	return &conn, nil
}

// CreateConnection inserts a new connection record.
func (s *Store) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO connections (id, user_id, nome, numero, status, agente_id) VALUES (?, ?, ?, ?, ?, ?)`),
		conn.ID, conn.UserID, conn.Nome, conn.Numero, conn.Status, conn.AgenteID)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// ListConnectionsByUser returns the connections owned by an admin.
func (s *Store) ListConnectionsByUser(ctx context.Context, userID string) ([]models.Connection, error) {
	conns := []models.Connection{}
	err := s.db.SelectContext(ctx, &conns, s.db.Rebind(
		`SELECT id, user_id, nome, numero, status, agente_id FROM connections WHERE user_id = ? ORDER BY nome`), userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// SetConnectionPaired persists the gateway-confirmed number and activates the
// connection.
func (s *Store) SetConnectionPaired(ctx context.Context, id, numero string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE connections SET numero = ?, status = TRUE WHERE id = ?`), numero, id)
	if err != nil {
		return fmt.Errorf("pair connection: %w", err)
	}
	return nil
}

// UpdateConnection updates the mutable connection fields.
func (s *Store) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE connections SET nome = ?, numero = ?, status = ?, agente_id = ? WHERE id = ?`),
		conn.Nome, conn.Numero, conn.Status, conn.AgenteID, conn.ID)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM connections WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// FindActiveConnectionByNumber finds another active connection of the same
// owner already holding the number. Returns (nil, nil) when there is none.
func (s *Store) FindActiveConnectionByNumber(ctx context.Context, ownerID, numero, excludeID string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.GetContext(ctx, &conn, s.db.Rebind(
		`SELECT id, user_id, nome, numero, status, agente_id FROM connections
		 WHERE user_id = ? AND numero = ? AND status = TRUE AND id <> ?`), ownerID, numero, excludeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find connection by number: %w", err)
	}
	return &conn, nil
}

// ListSiblingNumbers returns the paired numbers of the owner's other
// connections.
func (s *Store) ListSiblingNumbers(ctx context.Context, ownerID, excludeConnectionID string) ([]string, error) {
	numbers := []string{}
	err := s.db.SelectContext(ctx, &numbers, s.db.Rebind(
		`SELECT numero FROM connections WHERE user_id = ? AND id <> ? AND numero IS NOT NULL`),
		ownerID, excludeConnectionID)
	if err != nil {
		return nil, fmt.Errorf("list sibling numbers: %w", err)
	}
	return numbers, nil
}

// Attendant queries --------------------------------------------------------

// CreateAttendant links an attendant user to an admin and a connection.
func (s *Store) CreateAttendant(ctx context.Context, att *models.Attendant) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO attendants (id, user_admin_id, user_id, connection_id) VALUES (?, ?, ?, ?)`),
		att.ID, att.UserAdminID, att.UserID, att.ConnectionID)
	if err != nil {
		return fmt.Errorf("create attendant: %w", err)
	}
	return nil
}

// ListAttendantsByAdmin lists the admin's attendants.
func (s *Store) ListAttendantsByAdmin(ctx context.Context, adminID string) ([]models.Attendant, error) {
	atts := []models.Attendant{}
	err := s.db.SelectContext(ctx, &atts, s.db.Rebind(
		`SELECT id, user_admin_id, user_id, connection_id FROM attendants WHERE user_admin_id = ?`), adminID)
	if err != nil {
		return nil, fmt.Errorf("list attendants: %w", err)
	}
	return atts, nil
}

// ListAttendantNumbers returns the phone numbers of the attendant users
// working for an admin.
func (s *Store) ListAttendantNumbers(ctx context.Context, adminID string) ([]string, error) {
	numbers := []string{}
	err := s.db.SelectContext(ctx, &numbers, s.db.Rebind(
		`SELECT u.numero FROM attendants a JOIN users u ON u.id = a.user_id
		 WHERE a.user_admin_id = ? AND u.numero IS NOT NULL`), adminID)
	if err != nil {
		return nil, fmt.Errorf("list attendant numbers: %w", err)
	}
	return numbers, nil
}

// DeleteAttendant removes the attendant and its linked user account.
func (s *Store) DeleteAttendant(ctx context.Context, id string) error {
	var userID string
	err := s.db.GetContext(ctx, &userID, s.db.Rebind(`SELECT user_id FROM attendants WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find attendant: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM attendants WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete attendant: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM users WHERE id = ?`), userID); err != nil {
		return fmt.Errorf("delete attendant user: %w", err)
	}
	return nil
}

// DeleteAttendantsByConnection cascades the attendants scoped to a deleted
// connection, including their user accounts.
func (s *Store) DeleteAttendantsByConnection(ctx context.Context, connectionID string) error {
	userIDs := []string{}
	err := s.db.SelectContext(ctx, &userIDs, s.db.Rebind(
		`SELECT user_id FROM attendants WHERE connection_id = ?`), connectionID)
	if err != nil {
		return fmt.Errorf("list attendants by connection: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM attendants WHERE connection_id = ?`), connectionID); err != nil {
		return fmt.Errorf("delete attendants: %w", err)
	}
	for _, userID := range userIDs {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM users WHERE id = ?`), userID); err != nil {
			return fmt.Errorf("delete attendant user: %w", err)
		}
	}
	return nil
}

// User queries -------------------------------------------------------------

const userColumns = `id, auth_id, email, nome, tipo_de_usuario, numero, foto_perfil, token,
	ai_trigger_word, notificacoes_ativas`

// GetUser loads one user. Returns (nil, nil) when missing.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a user record.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (id, auth_id, email, nome, tipo_de_usuario, numero, foto_perfil, token,
		 ai_trigger_word, notificacoes_ativas)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.AuthID, user.Email, user.Nome, user.TipoDeUsuario, user.Numero,
		user.FotoPerfil, user.Token, user.AITriggerWord, user.NotificacoesAtivas)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateUser updates the mutable user fields.
func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET email = ?, nome = ?, numero = ?, foto_perfil = ?, ai_trigger_word = ?,
		 notificacoes_ativas = ? WHERE id = ?`),
		user.Email, user.Nome, user.Numero, user.FotoPerfil, user.AITriggerWord,
		user.NotificacoesAtivas, user.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// GetUserByToken resolves the account holding an API token. Returns
// (nil, nil) when no account matches.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}
	var user models.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by token: %w", err)
	}
	return &user, nil
}

// AuthorizeViewer validates a subscription token for a viewer and returns
// the fanout recipient key: the user id for admins, "connection:<id>" for
// attendants scoped to one connection.
func (s *Store) AuthorizeViewer(ctx context.Context, viewerID, token string) (string, error) {
	user, err := s.GetUser(ctx, viewerID)
	if err != nil {
		return "", err
	}
	if user == nil || user.Token == nil || *user.Token == "" || *user.Token != token {
		return "", fmt.Errorf("invalid token for viewer %s", viewerID)
	}
	if user.TipoDeUsuario != models.UserTypeAttendant {
		return user.ID, nil
	}

	var connectionID string
	err = s.db.GetContext(ctx, &connectionID, s.db.Rebind(
		`SELECT connection_id FROM attendants WHERE user_id = ?`), viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("attendant %s has no connection scope", viewerID)
	}
	if err != nil {
		return "", fmt.Errorf("attendant scope: %w", err)
	}
	return "connection:" + connectionID, nil
}

// Agent queries ------------------------------------------------------------

// CreateAgent inserts an automation agent profile.
func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO agents (id, tipo_de_agente, descricao, prompt_do_agente) VALUES (?, ?, ?, ?)`),
		agent.ID, agent.TipoDeAgente, agent.Descricao, agent.PromptDoAgente)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// ListAgents returns every agent profile.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	agents := []models.Agent{}
	err := s.db.SelectContext(ctx, &agents, `SELECT id, tipo_de_agente, descricao, prompt_do_agente FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// UpdateAgent updates an agent profile.
func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE agents SET tipo_de_agente = ?, descricao = ?, prompt_do_agente = ? WHERE id = ?`),
		agent.TipoDeAgente, agent.Descricao, agent.PromptDoAgente, agent.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

// DeleteAgent removes an agent profile.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// Subscription queries -----------------------------------------------------

// GetSubscriptionPlan returns the admin's plan name, or "" when there is no
// subscription on file.
func (s *Store) GetSubscriptionPlan(ctx context.Context, userID string) (string, error) {
	var plano string
	err := s.db.GetContext(ctx, &plano, s.db.Rebind(
		`SELECT plano FROM subscriptions WHERE user_id = ? AND status = 'active'`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get subscription plan: %w", err)
	}
	return plano, nil
}

// Chat queries -------------------------------------------------------------

const chatColumns = `id, connection_id, contato_nome, contato_numero, ia_ativa, ia_desativada_em,
	foto_perfil, status, atendente_id, atualizado_em`

// GetChatByContact finds the chat for a (connection, normalized number)
// pair. Returns (nil, nil) when absent.
func (s *Store) GetChatByContact(ctx context.Context, connectionID, numero string) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.GetContext(ctx, &chat, s.db.Rebind(
		`SELECT `+chatColumns+` FROM chats WHERE connection_id = ? AND contato_numero = ?`),
		connectionID, numero)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat by contact: %w", err)
	}
	return &chat, nil
}

// GetChat loads one chat by id. Returns (nil, nil) when missing.
func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.GetContext(ctx, &chat, s.db.Rebind(
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// UpsertChat creates the chat or, under a concurrent first-contact race,
// returns the row that won the (connection_id, contato_numero) conflict.
func (s *Store) UpsertChat(ctx context.Context, chat *models.Chat) (*models.Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.AtualizadoEm.IsZero() {
		chat.AtualizadoEm = time.Now().UTC()
	}

	var stored models.Chat
	err := s.db.GetContext(ctx, &stored, s.db.Rebind(
		`INSERT INTO chats (id, connection_id, contato_nome, contato_numero, ia_ativa, foto_perfil, status, atualizado_em)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (connection_id, contato_numero)
		 DO UPDATE SET atualizado_em = excluded.atualizado_em
		 RETURNING `+chatColumns),
		chat.ID, chat.ConnectionID, chat.ContatoNome, chat.ContatoNumero,
		chat.IAAtiva, chat.FotoPerfil, chat.Status, chat.AtualizadoEm)
	if err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}
	return &stored, nil
}

// ListChatsByUser lists chats across the admin's connections, newest
// activity first.
func (s *Store) ListChatsByUser(ctx context.Context, userID string) ([]models.Chat, error) {
	chats := []models.Chat{}
	err := s.db.SelectContext(ctx, &chats, s.db.Rebind(
		`SELECT c.id, c.connection_id, c.contato_nome, c.contato_numero, c.ia_ativa, c.ia_desativada_em,
		        c.foto_perfil, c.status, c.atendente_id, c.atualizado_em
		 FROM chats c JOIN connections cn ON cn.id = c.connection_id
		 WHERE cn.user_id = ? ORDER BY c.atualizado_em DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// SetChatName updates the display name.
func (s *Store) SetChatName(ctx context.Context, chatID, nome string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE chats SET contato_nome = ?, atualizado_em = ? WHERE id = ?`),
		nome, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("set chat name: %w", err)
	}
	return nil
}

// SetChatAutomation flips the automation flag, stamping ia_desativada_em on
// the way off.
func (s *Store) SetChatAutomation(ctx context.Context, chatID string, enabled bool) error {
	var disabledAt *time.Time
	if !enabled {
		now := time.Now().UTC()
		disabledAt = &now
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE chats SET ia_ativa = ?, ia_desativada_em = ?, atualizado_em = ? WHERE id = ?`),
		enabled, disabledAt, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("set chat automation: %w", err)
	}
	return nil
}

// ReopenChat transitions a closed chat back to Open, re-enables automation
// and clears the assigned attendant.
func (s *Store) ReopenChat(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE chats SET status = ?, ia_ativa = TRUE, ia_desativada_em = NULL, atendente_id = NULL, atualizado_em = ?
		 WHERE id = ?`),
		models.ChatStatusOpen, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("reopen chat: %w", err)
	}
	return nil
}

// SetChatPhoto updates the profile photo reference.
func (s *Store) SetChatPhoto(ctx context.Context, chatID string, url *string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE chats SET foto_perfil = ? WHERE id = ?`), url, chatID)
	if err != nil {
		return fmt.Errorf("set chat photo: %w", err)
	}
	return nil
}

// UpdateChat updates the CRUD-editable chat fields.
func (s *Store) UpdateChat(ctx context.Context, chat *models.Chat) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE chats SET contato_nome = ?, ia_ativa = ?, status = ?, atendente_id = ?, atualizado_em = ? WHERE id = ?`),
		chat.ContatoNome, chat.IAAtiva, chat.Status, chat.AtendenteID, time.Now().UTC(), chat.ID)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat and its messages and read markers.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM messages WHERE chat_id = ?`), id); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM chats_reads WHERE chat_id = ?`), id); err != nil {
		return fmt.Errorf("delete chat reads: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM chats WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// Message queries ----------------------------------------------------------

const messageColumns = `id, chat_id, remetente, mensagem, mimetype, media_url, quote_id, nome_arquivo, excluded, criado_em`

// GetChatMessage finds a stored message by provider id within the
// connection's chats. Returns (nil, nil) when unknown.
func (s *Store) GetChatMessage(ctx context.Context, connectionID, providerID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.GetContext(ctx, &msg, s.db.Rebind(
		`SELECT m.id, m.chat_id, m.remetente, m.mensagem, m.mimetype, m.media_url, m.quote_id,
		        m.nome_arquivo, m.excluded, m.criado_em
		 FROM messages m JOIN chats c ON c.id = m.chat_id
		 WHERE m.id = ? AND c.connection_id = ?`), providerID, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat message: %w", err)
	}
	return &msg, nil
}

// UpsertMessage persists the message keyed by (chat_id, provider id). A
// redelivered payload returns the already-stored row untouched.
func (s *Store) UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.CriadoEm.IsZero() {
		msg.CriadoEm = time.Now().UTC()
	}

	var stored models.Message
	err := s.db.GetContext(ctx, &stored, s.db.Rebind(
		`INSERT INTO messages (id, chat_id, remetente, mensagem, mimetype, media_url, quote_id, nome_arquivo, excluded, criado_em)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chat_id, id) DO UPDATE SET chat_id = excluded.chat_id
		 RETURNING `+messageColumns),
		msg.ID, msg.ChatID, msg.Remetente, msg.Mensagem, msg.Mimetype, msg.MediaURL,
		msg.QuoteID, msg.NomeArquivo, msg.Excluded, msg.CriadoEm)
	if err != nil {
		return nil, fmt.Errorf("upsert message: %w", err)
	}
	return &stored, nil
}

// ListMessagesByChat returns the chat history oldest first.
func (s *Store) ListMessagesByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY criado_em ASC`), chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// GetLastChatMessage returns the newest message of a chat, or (nil, nil)
// for an empty chat.
func (s *Store) GetLastChatMessage(ctx context.Context, chatID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.GetContext(ctx, &msg, s.db.Rebind(
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY criado_em DESC LIMIT 1`), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last chat message: %w", err)
	}
	return &msg, nil
}

// ListUnreadContactMessages returns contact messages newer than the chat's
// last-read marker; used to mark them read on the WhatsApp side.
func (s *Store) ListUnreadContactMessages(ctx context.Context, chatID, connectionID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(
		`SELECT `+messageColumns+` FROM messages
		 WHERE chat_id = ? AND remetente = ? AND excluded = FALSE
		   AND criado_em > COALESCE(
		     (SELECT last_read_at FROM chats_reads WHERE chat_id = ? AND connection_id = ?),
		     '1970-01-01')`),
		chatID, models.SenderContact, chatID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}
	return msgs, nil
}

// SoftDeleteMessage flags a message as excluded.
func (s *Store) SoftDeleteMessage(ctx context.Context, chatID, providerID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE messages SET excluded = TRUE WHERE chat_id = ? AND id = ?`), chatID, providerID)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

// ChatRead queries ---------------------------------------------------------

// UpsertChatRead moves the last-read marker forward for a (chat, connection)
// pair.
func (s *Store) UpsertChatRead(ctx context.Context, chatID, connectionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO chats_reads (chat_id, connection_id, last_read_at) VALUES (?, ?, ?)
		 ON CONFLICT (chat_id, connection_id) DO UPDATE SET last_read_at = excluded.last_read_at`),
		chatID, connectionID, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert chat read: %w", err)
	}
	return nil
}

// Metrics queries ----------------------------------------------------------

// CountChatsSince counts the admin's chats updated since the cutoff,
// optionally filtered by status.
func (s *Store) CountChatsSince(ctx context.Context, adminID, status string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM chats c JOIN connections cn ON cn.id = c.connection_id
	          WHERE cn.user_id = ? AND c.atualizado_em >= ?`
	args := []any{adminID, since.UTC()}
	if status != "" {
		query += ` AND c.status = ?`
		args = append(args, status)
	}
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count chats: %w", err)
	}
	return count, nil
}
