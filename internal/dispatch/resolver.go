package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
)

// NormalizeAddress reduces a provider address to a bare contact number.
// Group, broadcast and status addresses are rejected. Opaque linked-identity
// addresses ("@lid") are replaced by realNumber when the gateway reported
// one, rejected otherwise.
func NormalizeAddress(address, realNumber string) (string, bool) {
	if address == "" {
		return "", false
	}
	if strings.Contains(address, "@g.us") || strings.Contains(address, "@broadcast") {
		return "", false
	}
	if strings.HasSuffix(address, "@lid") {
		if realNumber == "" {
			return "", false
		}
		address = realNumber
	}

	numero := address
	if i := strings.IndexByte(numero, '@'); i >= 0 {
		numero = numero[:i]
	}
	// Device suffixes like "5511999999999:12" are not part of the number.
	if i := strings.IndexByte(numero, ':'); i >= 0 {
		numero = numero[:i]
	}
	numero = strings.TrimSpace(numero)
	if numero == "" {
		return "", false
	}
	return numero, true
}

// Resolver finds or creates the chat backing an inbound event.
type Resolver struct {
	store Store
	gw    Gateway
}

// NewResolver builds a resolver over the given persistence and gateway.
func NewResolver(store Store, gw Gateway) *Resolver {
	return &Resolver{store: store, gw: gw}
}

// ResolveChat returns the chat for (connection, numero), creating it when
// missing. On creation the contact name is pushName for contact-initiated
// chats and the bare number otherwise; the profile photo is fetched
// best-effort. The second return reports whether this call created the chat.
func (r *Resolver) ResolveChat(ctx context.Context, conn *models.Connection, numero, pushName string, fromContact bool) (*models.Chat, bool, error) {
	chat, err := r.store.GetChatByContact(ctx, conn.ID, numero)
	if err != nil {
		return nil, false, err
	}
	if chat != nil {
		return chat, false, nil
	}

	nome := numero
	if fromContact && pushName != "" {
		nome = pushName
	}

	var foto *string
	if url, err := r.gw.ProfilePictureURL(ctx, conn.ID, numero); err != nil {
		log.Debug().Err(err).
			Str("connectionID", conn.ID).
			Str("numero", numero).
			Msg("Profile picture fetch failed, creating chat without photo")
	} else if url != "" {
		foto = &url
	}

	fresh := &models.Chat{
		ConnectionID:  conn.ID,
		ContatoNome:   nome,
		ContatoNumero: numero,
		IAAtiva:       true,
		FotoPerfil:    foto,
		Status:        models.ChatStatusOpen,
		AtualizadoEm:  time.Now().UTC(),
	}
	stored, err := r.store.UpsertChat(ctx, fresh)
	if err != nil {
		return nil, false, err
	}

	// Under a redelivery race the upsert returns the winning row; only the
	// call that actually inserted reports created.
	created := stored.ID == fresh.ID
	if created {
		log.Info().
			Str("connectionID", conn.ID).
			Str("chatID", stored.ID).
			Str("numero", numero).
			Msg("Chat created")
	}
	return stored, created, nil
}

// EchoKind classifies a sender number against the tenant's own numbers.
type EchoKind int

const (
	EchoNone EchoKind = iota
	// EchoSibling means the number belongs to another connection of the
	// same owner; the event is cross-talk between the tenant's sessions.
	EchoSibling
	// EchoAttendant means the number belongs to one of the tenant's
	// attendants texting the connection directly.
	EchoAttendant
)

// ClassifyEcho reports whether numero is one of the tenant's own numbers.
func (r *Resolver) ClassifyEcho(ctx context.Context, conn *models.Connection, numero string) (EchoKind, error) {
	siblings, err := r.store.ListSiblingNumbers(ctx, conn.UserID, conn.ID)
	if err != nil {
		return EchoNone, err
	}
	for _, n := range siblings {
		if sameNumber(n, numero) {
			return EchoSibling, nil
		}
	}

	attendants, err := r.store.ListAttendantNumbers(ctx, conn.UserID)
	if err != nil {
		return EchoNone, err
	}
	for _, n := range attendants {
		if sameNumber(n, numero) {
			return EchoAttendant, nil
		}
	}
	return EchoNone, nil
}

// sameNumber compares numbers after normalization, so stored values that
// still carry a JID suffix match bare numbers.
func sameNumber(a, b string) bool {
	na, oka := NormalizeAddress(a, "")
	nb, okb := NormalizeAddress(b, "")
	return oka && okb && na == nb
}
