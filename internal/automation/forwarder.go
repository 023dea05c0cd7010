package automation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/events"
)

// ContextSource provides the tenant context attached to forwarded batches.
type ContextSource interface {
	GetSubscriptionPlan(ctx context.Context, userID string) (string, error)
	ListAttendantNumbers(ctx context.Context, adminID string) ([]string, error)
}

// Batch is the envelope posted to the automation engine.
type Batch struct {
	IsFlood      bool               `json:"isFlood"`
	GroupedCount int                `json:"groupedCount"`
	Events       []*events.Enriched `json:"events"`
	Context      BatchContext       `json:"context"`
}

// BatchContext carries tenant data the automation engine needs to respond.
type BatchContext struct {
	Plano      string   `json:"plano,omitempty"`
	Atendentes []string `json:"atendentes,omitempty"`
	Categoria  string   `json:"categoria,omitempty"`
}

// Forwarder delivers enriched events to the automation webhook, optionally
// mirroring each batch to RabbitMQ.
type Forwarder struct {
	http   *resty.Client
	url    string
	store  ContextSource
	mirror *Publisher
}

// NewForwarder builds the forwarder. url may be empty, which disables
// webhook delivery; mirror may be nil.
func NewForwarder(url string, timeout time.Duration, store ContextSource, mirror *Publisher) *Forwarder {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Forwarder{http: client, url: url, store: store, mirror: mirror}
}

// ForwardBatch delivers one flushed flood bucket. It matches the FlushFunc
// shape of the aggregator.
func (f *Forwarder) ForwardBatch(connectionID, numero string, batch []*events.Enriched) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload := &Batch{
		IsFlood:      len(batch) > 1,
		GroupedCount: len(batch),
		Events:       batch,
		Context:      f.batchContext(ctx, batch),
	}
	f.deliver(ctx, connectionID, payload)
}

// ForwardNow delivers a single event immediately, bypassing the flood
// window. Used for connection lifecycle events.
func (f *Forwarder) ForwardNow(ctx context.Context, ev *events.Enriched) {
	batch := []*events.Enriched{ev}
	payload := &Batch{
		IsFlood:      false,
		GroupedCount: 1,
		Events:       batch,
		Context:      f.batchContext(ctx, batch),
	}
	connectionID := ""
	if ev.Connection != nil {
		connectionID = ev.Connection.ID
	}
	f.deliver(ctx, connectionID, payload)
}

func (f *Forwarder) deliver(ctx context.Context, connectionID string, payload *Batch) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize automation batch")
		return
	}

	if f.mirror != nil {
		if err := f.mirror.PublishJSON(ctx, body); err != nil {
			log.Warn().Err(err).Msg("RabbitMQ mirror publish failed")
		}
	}

	if f.url == "" {
		return
	}

	resp, err := f.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(f.url)
	if err != nil {
		log.Error().Err(err).
			Str("connectionID", connectionID).
			Int("groupedCount", payload.GroupedCount).
			Msg("Automation webhook delivery failed")
		return
	}
	if resp.IsError() {
		log.Warn().
			Int("status", resp.StatusCode()).
			Str("connectionID", connectionID).
			Msg("Automation webhook returned an error status")
		return
	}

	log.Debug().
		Str("connectionID", connectionID).
		Int("groupedCount", payload.GroupedCount).
		Bool("isFlood", payload.IsFlood).
		Msg("Batch forwarded to automation")
}

// batchContext assembles the tenant context from the batch owner. Lookups
// are best-effort; a partial context is better than a dropped batch.
func (f *Forwarder) batchContext(ctx context.Context, batch []*events.Enriched) BatchContext {
	bc := BatchContext{Categoria: categorize(batch)}

	adminID := ""
	for _, ev := range batch {
		if ev.Connection != nil {
			adminID = ev.Connection.UserID
			break
		}
	}
	if adminID == "" {
		return bc
	}

	if plano, err := f.store.GetSubscriptionPlan(ctx, adminID); err != nil {
		log.Debug().Err(err).Str("adminID", adminID).Msg("Subscription lookup failed")
	} else {
		bc.Plano = plano
	}

	if atendentes, err := f.store.ListAttendantNumbers(ctx, adminID); err != nil {
		log.Debug().Err(err).Str("adminID", adminID).Msg("Attendant lookup failed")
	} else {
		bc.Atendentes = atendentes
	}
	return bc
}

// categorize labels the batch by the content of its last message.
func categorize(batch []*events.Enriched) string {
	for i := len(batch) - 1; i >= 0; i-- {
		msg := batch[i].Message
		if msg == nil {
			continue
		}
		if msg.Mimetype == nil {
			return "text"
		}
		mime := *msg.Mimetype
		switch {
		case strings.HasPrefix(mime, "image/"):
			return "image"
		case strings.HasPrefix(mime, "audio/"):
			return "audio"
		case strings.HasPrefix(mime, "video/"):
			return "video"
		default:
			return "document"
		}
	}
	return ""
}
