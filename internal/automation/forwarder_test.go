package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"zapdesk/internal/events"
	"zapdesk/internal/models"
)

type fakeContext struct {
	plan    string
	numbers []string
}

func (f *fakeContext) GetSubscriptionPlan(context.Context, string) (string, error) {
	return f.plan, nil
}

func (f *fakeContext) ListAttendantNumbers(context.Context, string) ([]string, error) {
	return f.numbers, nil
}

type capture struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.batches = append(c.batches, batch)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) first(t *testing.T) Batch {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) != 1 {
		t.Fatalf("received %d batches, want 1", len(c.batches))
	}
	return c.batches[0]
}

func messageEvent(mimetype *string) *events.Enriched {
	body := "oi"
	return &events.Enriched{
		Event:      events.TypeMessagesUpsert,
		Connection: &models.Connection{ID: "conn-1", UserID: "admin-1"},
		Chat:       &models.Chat{ID: "chat-1", ConnectionID: "conn-1", ContatoNumero: "5511999999999"},
		Message:    &models.Message{ID: "m1", ChatID: "chat-1", Mensagem: &body, Mimetype: mimetype},
	}
}

func TestForwardBatchFloodEnvelope(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler())
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, &fakeContext{plan: "pro", numbers: []string{"5511777777777"}}, nil)
	f.ForwardBatch("conn-1", "5511999999999", []*events.Enriched{
		messageEvent(nil), messageEvent(nil), messageEvent(nil),
	})

	batch := c.first(t)
	if !batch.IsFlood {
		t.Error("three grouped events should be flagged as flood")
	}
	if batch.GroupedCount != 3 || len(batch.Events) != 3 {
		t.Errorf("groupedCount = %d, events = %d", batch.GroupedCount, len(batch.Events))
	}
	if batch.Context.Plano != "pro" {
		t.Errorf("plano = %q", batch.Context.Plano)
	}
	if len(batch.Context.Atendentes) != 1 {
		t.Errorf("atendentes = %v", batch.Context.Atendentes)
	}
	if batch.Context.Categoria != "text" {
		t.Errorf("categoria = %q, want text", batch.Context.Categoria)
	}
}

func TestForwardNowSingleEnvelope(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler())
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, &fakeContext{}, nil)
	f.ForwardNow(context.Background(), &events.Enriched{
		Event:      events.TypeConnectionUpdate,
		State:      "open",
		Connection: &models.Connection{ID: "conn-1", UserID: "admin-1"},
	})

	batch := c.first(t)
	if batch.IsFlood || batch.GroupedCount != 1 {
		t.Errorf("envelope = isFlood %v, groupedCount %d", batch.IsFlood, batch.GroupedCount)
	}
}

func TestCategorize(t *testing.T) {
	image := "image/jpeg"
	audio := "audio/ogg"
	pdf := "application/pdf"

	tests := []struct {
		name  string
		batch []*events.Enriched
		want  string
	}{
		{"text", []*events.Enriched{messageEvent(nil)}, "text"},
		{"image", []*events.Enriched{messageEvent(&image)}, "image"},
		{"audio", []*events.Enriched{messageEvent(&audio)}, "audio"},
		{"document", []*events.Enriched{messageEvent(&pdf)}, "document"},
		{"last event wins", []*events.Enriched{messageEvent(&image), messageEvent(nil)}, "text"},
		{"no messages", []*events.Enriched{{Event: events.TypeConnectionUpdate}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorize(tt.batch); got != tt.want {
				t.Errorf("categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeliveryErrorDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, &fakeContext{}, nil)
	f.ForwardBatch("conn-1", "5511999999999", []*events.Enriched{messageEvent(nil)})

	// Webhook disabled entirely is also a silent no-op.
	f = NewForwarder("", time.Second, &fakeContext{}, nil)
	f.ForwardBatch("conn-1", "5511999999999", []*events.Enriched{messageEvent(nil)})
}
