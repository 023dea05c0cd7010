package models

import "time"

// User is an account on the platform: an admin owning connections or an
// attendant working on one. Column names follow the original schema.
type User struct {
	ID            string  `db:"id" json:"id"`
	AuthID        *string `db:"auth_id" json:"auth_id,omitempty"`
	Email         string  `db:"email" json:"email"`
	Nome          string  `db:"nome" json:"nome"`
	TipoDeUsuario string  `db:"tipo_de_usuario" json:"tipo_de_usuario"`
	Numero        *string `db:"numero" json:"numero,omitempty"`
	FotoPerfil    *string `db:"foto_perfil" json:"foto_perfil,omitempty"`
	Token         *string `db:"token" json:"-"`

	// Trigger phrase that re-enables automation when the admin sends it.
	AITriggerWord *string `db:"ai_trigger_word" json:"ai_trigger_word,omitempty"`

	NotificacoesAtivas bool `db:"notificacoes_ativas" json:"notificacoes_ativas"`
}

const (
	UserTypeAdmin     = "admin"
	UserTypeAttendant = "atendente"
)

// Agent is an automation agent profile that can be linked to a connection.
type Agent struct {
	ID             string  `db:"id" json:"id"`
	TipoDeAgente   string  `db:"tipo_de_agente" json:"tipo_de_agente"`
	Descricao      *string `db:"descricao" json:"descricao,omitempty"`
	PromptDoAgente *string `db:"prompt_do_agente" json:"prompt_do_agente,omitempty"`
}

// Connection is one WhatsApp session owned by an admin. Numero is nil until
// the gateway confirms pairing.
type Connection struct {
	ID       string  `db:"id" json:"id"`
	UserID   string  `db:"user_id" json:"user_id"`
	Nome     string  `db:"nome" json:"nome"`
	Numero   *string `db:"numero" json:"numero,omitempty"`
	Status   bool    `db:"status" json:"status"`
	AgenteID *string `db:"agente_id" json:"agente_id,omitempty"`

	// Joined for enriched events; not columns of connections.
	User   *User  `db:"-" json:"user,omitempty"`
	Agente *Agent `db:"-" json:"agente,omitempty"`
}

// Attendant links an attendant user to an admin, scoped to one connection.
type Attendant struct {
	ID           string `db:"id" json:"id"`
	UserAdminID  string `db:"user_admin_id" json:"user_admin_id"`
	UserID       string `db:"user_id" json:"user_id"`
	ConnectionID string `db:"connection_id" json:"connection_id"`
}

// Subscription is the admin's billing plan, used only as forwarding context
// for the automation engine.
type Subscription struct {
	ID      string `db:"id" json:"id"`
	UserID  string `db:"user_id" json:"user_id"`
	Plano   string `db:"plano" json:"plano"`
	Periodo string `db:"periodo" json:"periodo"`
	Status  string `db:"status" json:"status"`
}

const (
	ChatStatusOpen  = "Open"
	ChatStatusClose = "Close"
)

// Chat is a conversation between one connection and one external contact.
// At most one chat exists per (connection_id, contato_numero).
type Chat struct {
	ID             string     `db:"id" json:"id"`
	ConnectionID   string     `db:"connection_id" json:"connection_id"`
	ContatoNome    string     `db:"contato_nome" json:"contato_nome"`
	ContatoNumero  string     `db:"contato_numero" json:"contato_numero"`
	IAAtiva        bool       `db:"ia_ativa" json:"ia_ativa"`
	IADesativadaEm *time.Time `db:"ia_desativada_em" json:"ia_desativada_em,omitempty"`
	FotoPerfil     *string    `db:"foto_perfil" json:"foto_perfil,omitempty"`
	Status         string     `db:"status" json:"status"`
	AtendenteID    *string    `db:"atendente_id" json:"atendente_id,omitempty"`
	AtualizadoEm   time.Time  `db:"atualizado_em" json:"atualizado_em"`
}

const (
	SenderContact = "Contato"
	SenderUser    = "Usuário"
)

// Message is one delivered or sent WhatsApp message. ID is the
// provider-assigned identifier; uniqueness is scoped to the chat so colliding
// ids across connections cannot touch each other.
type Message struct {
	ID          string    `db:"id" json:"id"`
	ChatID      string    `db:"chat_id" json:"chat_id"`
	Remetente   string    `db:"remetente" json:"remetente"`
	Mensagem    *string   `db:"mensagem" json:"mensagem"`
	Mimetype    *string   `db:"mimetype" json:"mimetype,omitempty"`
	MediaURL    *string   `db:"media_url" json:"media_url,omitempty"`
	QuoteID     *string   `db:"quote_id" json:"quote_id,omitempty"`
	NomeArquivo *string   `db:"nome_arquivo" json:"nome_arquivo,omitempty"`
	Excluded    bool      `db:"excluded" json:"excluded"`
	CriadoEm    time.Time `db:"criado_em" json:"criado_em"`

	// The cited message, resolved for enriched events only.
	QuoteMessage *Message `db:"-" json:"quote_message,omitempty"`
}

// ChatRead is the last-read marker for a (chat, connection) pair.
type ChatRead struct {
	ChatID       string    `db:"chat_id" json:"chat_id"`
	ConnectionID string    `db:"connection_id" json:"connection_id"`
	LastReadAt   time.Time `db:"last_read_at" json:"last_read_at"`
}
