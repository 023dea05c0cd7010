package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store is the relational persistence layer. It is the single source of
// truth; concurrent writers are arbitrated by unique constraints and
// upsert-on-conflict.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database. driver is "postgres" or "sqlite"; sqlite is
// used for local development and tests.
func Open(driver, url string) (*Store, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	conn, err := sqlx.Connect(driver, url)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	log.Info().Str("driver", driver).Msg("Database connected")
	return &Store{db: conn}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		auth_id TEXT,
		email TEXT NOT NULL,
		nome TEXT NOT NULL,
		tipo_de_usuario TEXT NOT NULL DEFAULT 'admin',
		numero TEXT,
		foto_perfil TEXT,
		token TEXT,
		ai_trigger_word TEXT,
		notificacoes_ativas BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		tipo_de_agente TEXT NOT NULL,
		descricao TEXT,
		prompt_do_agente TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		nome TEXT NOT NULL,
		numero TEXT,
		status BOOLEAN NOT NULL DEFAULT FALSE,
		agente_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS attendants (
		id TEXT PRIMARY KEY,
		user_admin_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		connection_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plano TEXT NOT NULL,
		periodo TEXT NOT NULL,
		status TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		contato_nome TEXT NOT NULL,
		contato_numero TEXT NOT NULL,
		ia_ativa BOOLEAN NOT NULL DEFAULT TRUE,
		ia_desativada_em TIMESTAMP,
		foto_perfil TEXT,
		status TEXT NOT NULL DEFAULT 'Open',
		atendente_id TEXT,
		atualizado_em TIMESTAMP NOT NULL,
		UNIQUE (connection_id, contato_numero)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		remetente TEXT NOT NULL,
		mensagem TEXT,
		mimetype TEXT,
		media_url TEXT,
		quote_id TEXT,
		nome_arquivo TEXT,
		excluded BOOLEAN NOT NULL DEFAULT FALSE,
		criado_em TIMESTAMP NOT NULL,
		PRIMARY KEY (chat_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS chats_reads (
		chat_id TEXT NOT NULL,
		connection_id TEXT NOT NULL,
		last_read_at TIMESTAMP NOT NULL,
		PRIMARY KEY (chat_id, connection_id)
	)`,
}

// Migrate creates the schema when missing. Statements are portable between
// postgres and sqlite.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Msg("Database schema up to date")
	return nil
}
