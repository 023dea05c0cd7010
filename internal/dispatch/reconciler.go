package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/events"
	"zapdesk/internal/models"
)

// Reconciler classifies a dispatched event and converges the stored state to
// it, returning the enriched event for fanout and forwarding.
type Reconciler struct {
	store    Store
	gw       Gateway
	resolver *Resolver
	debounce *Debounce
	media    Materializer
}

// NewReconciler wires the pipeline. media may be nil when blob storage is
// not configured.
func NewReconciler(store Store, gw Gateway, media Materializer, debounce *Debounce) *Reconciler {
	return &Reconciler{
		store:    store,
		gw:       gw,
		resolver: NewResolver(store, gw),
		debounce: debounce,
		media:    media,
	}
}

// Reconcile processes one event against the connection it arrived on.
func (r *Reconciler) Reconcile(ctx context.Context, conn *models.Connection, req *events.DispatchRequest) (*events.Enriched, error) {
	switch req.Event {
	case events.TypeConnectionUpdate:
		return r.connectionUpdate(ctx, conn, req.Data)
	case events.TypeChatsUpsert:
		return r.chatsUpsert(ctx, conn, req.Data)
	case events.TypeMessagesUpsert, events.TypeSendMessage:
		return r.message(ctx, conn, req)
	case events.TypeMessagesDelete:
		return r.messagesDelete(ctx, conn, req.Data)
	default:
		return events.Ignored("unsupported event type " + req.Event), nil
	}
}

func (r *Reconciler) connectionUpdate(ctx context.Context, conn *models.Connection, data json.RawMessage) (*events.Enriched, error) {
	var upd events.ConnectionUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return nil, fmt.Errorf("decode connection update: %w", err)
	}

	switch upd.State {
	case "open":
		numero, ok := NormalizeAddress(upd.WUID, "")
		if !ok {
			return events.Ignored("connection opened without a usable wuid"), nil
		}

		dup, err := r.store.FindActiveConnectionByNumber(ctx, conn.UserID, numero, conn.ID)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			// The number is already live on a sibling connection. The
			// newcomer loses: remove it here and at the gateway so the
			// session does not linger half-paired.
			if err := r.store.DeleteAttendantsByConnection(ctx, conn.ID); err != nil {
				return nil, err
			}
			if err := r.store.DeleteConnection(ctx, conn.ID); err != nil {
				return nil, err
			}
			if err := r.gw.DeleteInstance(ctx, conn.ID); err != nil {
				log.Warn().Err(err).Str("connectionID", conn.ID).Msg("Gateway instance cleanup failed after duplicate pairing")
			}
			log.Warn().
				Str("connectionID", conn.ID).
				Str("duplicateOf", dup.ID).
				Str("numero", numero).
				Msg("Duplicate pairing rejected")
			ev := &events.Enriched{
				Event:      events.TypeConnectionUpdate,
				Connection: conn,
				State:      "duplicate",
				Error:      "numero já conectado em outra conexão",
			}
			return ev, ErrDuplicateConnection
		}

		if err := r.store.SetConnectionPaired(ctx, conn.ID, numero); err != nil {
			return nil, err
		}
		conn.Numero = &numero
		conn.Status = true
		log.Info().Str("connectionID", conn.ID).Str("numero", numero).Msg("Connection paired")
		return &events.Enriched{Event: events.TypeConnectionUpdate, Connection: conn, State: "open"}, nil

	case "close":
		if err := r.store.DeleteAttendantsByConnection(ctx, conn.ID); err != nil {
			return nil, err
		}
		if err := r.store.DeleteConnection(ctx, conn.ID); err != nil {
			return nil, err
		}
		log.Info().Str("connectionID", conn.ID).Msg("Connection closed and removed")
		return &events.Enriched{Event: events.TypeConnectionUpdate, Connection: conn, State: "close"}, nil

	default:
		return events.Ignored("connection state " + upd.State), nil
	}
}

func (r *Reconciler) chatsUpsert(ctx context.Context, conn *models.Connection, data json.RawMessage) (*events.Enriched, error) {
	address := events.DecodeChatsUpsert(data)
	numero, ok := NormalizeAddress(address, "")
	if !ok {
		return events.Ignored("chat upsert without a usable address"), nil
	}

	// Contact-list churn right after a message is an echo of the message
	// itself, not a read signal.
	if r.debounce.Suppressed(conn.ID, numero) {
		return events.Ignored("chat upsert inside debounce window"), nil
	}

	chat, err := r.store.GetChatByContact(ctx, conn.ID, numero)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		// Chats are only created from messages, never from list churn.
		return events.Ignored("no chat for contact"), nil
	}

	if err := r.store.UpsertChatRead(ctx, chat.ID, conn.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &events.Enriched{Event: events.TypeChatsUpsert, Connection: conn, Chat: chat}, nil
}

func (r *Reconciler) message(ctx context.Context, conn *models.Connection, req *events.DispatchRequest) (*events.Enriched, error) {
	var up events.MessageUpsert
	if err := json.Unmarshal(req.Data, &up); err != nil {
		return nil, fmt.Errorf("decode message upsert: %w", err)
	}
	if up.Message == nil {
		return events.Ignored("message without content"), nil
	}
	if up.Message.Edited != nil {
		return events.Ignored("edited message"), nil
	}
	if up.Message.Reaction != nil {
		return events.Ignored("reaction"), nil
	}

	address := up.RemoteAddress()
	if address == "" {
		return nil, ErrMissingAddress
	}
	numero, ok := NormalizeAddress(address, up.RealNumber())
	if !ok {
		return events.Ignored("group or broadcast address"), nil
	}

	r.debounce.Mark(conn.ID, numero)

	fromMe := up.Key.FromMe || req.Event == events.TypeSendMessage
	fromContact := !fromMe

	if fromContact {
		kind, err := r.resolver.ClassifyEcho(ctx, conn, numero)
		if err != nil {
			return nil, err
		}
		switch kind {
		case EchoSibling:
			return events.Ignored("echo from sibling connection"), nil
		case EchoAttendant:
			// An attendant texting from their own phone is a human
			// takeover, not a customer message.
			if err := r.attendantTakeover(ctx, conn, numero); err != nil {
				return nil, err
			}
			return events.Ignored("attendant takeover"), nil
		}
	}

	chat, created, err := r.resolver.ResolveChat(ctx, conn, numero, up.PushName, fromContact)
	if err != nil {
		return nil, err
	}

	// Contacts start out named by their number; adopt the push name once
	// it shows up.
	if fromContact && !created && up.PushName != "" &&
		chat.ContatoNome == chat.ContatoNumero && up.PushName != chat.ContatoNumero {
		if err := r.store.SetChatName(ctx, chat.ID, up.PushName); err != nil {
			return nil, err
		}
		chat.ContatoNome = up.PushName
	}

	// A contact writing into a closed chat reopens it with automation on
	// and no assigned attendant.
	if fromContact && chat.Status == models.ChatStatusClose {
		if err := r.store.ReopenChat(ctx, chat.ID); err != nil {
			return nil, err
		}
		chat.Status = models.ChatStatusOpen
		chat.IAAtiva = true
		chat.IADesativadaEm = nil
		chat.AtendenteID = nil
	}

	remetente := models.SenderContact
	if fromMe {
		remetente = models.SenderUser
		if err := r.reconcileAutomation(ctx, conn, chat, up.Message.Body()); err != nil {
			return nil, err
		}
	}

	msgID := up.Key.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	body := up.Message.Body()
	var mimetype, mediaURL, nomeArquivo *string
	kind, part := up.Message.Media()
	if kind != events.MediaNone {
		if part != nil && part.Caption != "" {
			body = part.Caption
		}
		if r.media != nil {
			if res, ok := r.media.Materialize(ctx, conn.ID, msgID, kind, part, req.Data); ok {
				mediaURL = &res.URL
				mimetype = &res.Mimetype
			}
		}
		if mimetype == nil && part != nil && part.Mimetype != "" {
			mimetype = &part.Mimetype
		}
		if part != nil && part.FileName != "" {
			nomeArquivo = &part.FileName
		}
	} else if body == "" {
		if placeholder, ok := up.Message.Placeholder(); ok {
			body = placeholder
		} else {
			return events.Ignored("unsupported message content"), nil
		}
	}

	var quoteID *string
	var quoted *models.Message
	if up.ContextInfo != nil && up.ContextInfo.StanzaID != "" {
		if q, err := r.store.GetChatMessage(ctx, conn.ID, up.ContextInfo.StanzaID); err != nil {
			return nil, err
		} else if q != nil {
			quoteID = &q.ID
			quoted = q
		}
	}

	msg := &models.Message{
		ID:          msgID,
		ChatID:      chat.ID,
		Remetente:   remetente,
		Mimetype:    mimetype,
		MediaURL:    mediaURL,
		QuoteID:     quoteID,
		NomeArquivo: nomeArquivo,
		CriadoEm:    time.Now().UTC(),
	}
	if body != "" {
		msg.Mensagem = &body
	}

	stored, err := r.store.UpsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	stored.QuoteMessage = quoted

	return &events.Enriched{Event: req.Event, Connection: conn, Chat: chat, Message: stored}, nil
}

// attendantTakeover force-disables automation on the chat matching the
// attendant's number, when one exists. The event itself is not persisted.
func (r *Reconciler) attendantTakeover(ctx context.Context, conn *models.Connection, numero string) error {
	chat, err := r.store.GetChatByContact(ctx, conn.ID, numero)
	if err != nil {
		return err
	}
	if chat == nil || !chat.IAAtiva {
		return nil
	}
	if err := r.store.SetChatAutomation(ctx, chat.ID, false); err != nil {
		return err
	}
	log.Info().Str("chatID", chat.ID).Str("numero", numero).Msg("Automation disabled by attendant takeover")
	return nil
}

// reconcileAutomation applies the human-takeover rule to a message sent by
// the tenant's own side: the trigger phrase re-enables automation, anything
// else disables it.
func (r *Reconciler) reconcileAutomation(ctx context.Context, conn *models.Connection, chat *models.Chat, body string) error {
	trigger := ""
	if conn.User != nil && conn.User.AITriggerWord != nil {
		trigger = strings.TrimSpace(*conn.User.AITriggerWord)
	}

	if trigger != "" && strings.EqualFold(strings.TrimSpace(body), trigger) {
		if chat.IAAtiva {
			return nil
		}
		if err := r.store.SetChatAutomation(ctx, chat.ID, true); err != nil {
			return err
		}
		chat.IAAtiva = true
		chat.IADesativadaEm = nil
		log.Info().Str("chatID", chat.ID).Msg("Automation re-enabled by trigger word")
		return nil
	}

	if !chat.IAAtiva {
		return nil
	}
	if err := r.store.SetChatAutomation(ctx, chat.ID, false); err != nil {
		return err
	}
	chat.IAAtiva = false
	now := time.Now().UTC()
	chat.IADesativadaEm = &now
	log.Info().Str("chatID", chat.ID).Msg("Automation disabled by human takeover")
	return nil
}

func (r *Reconciler) messagesDelete(ctx context.Context, conn *models.Connection, data json.RawMessage) (*events.Enriched, error) {
	var del events.MessageDelete
	if err := json.Unmarshal(data, &del); err != nil {
		return nil, fmt.Errorf("decode message delete: %w", err)
	}

	id := del.MessageID()
	if id == "" {
		return events.Ignored("delete without message id"), nil
	}

	msg, err := r.store.GetChatMessage(ctx, conn.ID, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return events.Ignored("deleted message not found"), nil
	}

	if err := r.store.SoftDeleteMessage(ctx, msg.ChatID, msg.ID); err != nil {
		return nil, err
	}
	return &events.Enriched{
		Event:          events.TypeMessagesDelete,
		Connection:     conn,
		DeletedMessage: &events.DeletedRef{ID: msg.ID, ChatID: msg.ChatID},
	}, nil
}
