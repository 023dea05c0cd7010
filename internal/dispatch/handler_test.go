package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"zapdesk/internal/events"
	"zapdesk/internal/models"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	keys     [][]string
	payloads []any
}

func (f *fakeBroadcaster) Publish(keys []string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys)
	f.payloads = append(f.payloads, payload)
}

type fakeForwarder struct {
	mu     sync.Mutex
	events []*events.Enriched
}

func (f *fakeForwarder) ForwardNow(_ context.Context, ev *events.Enriched) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type handlerFixture struct {
	handler     *Handler
	store       *fakeStore
	broadcaster *fakeBroadcaster
	forwarder   *fakeForwarder
	flood       *FloodAggregator
}

func newHandlerFixture(secret string) *handlerFixture {
	store := newFakeStore()
	gw := &fakeGateway{}
	rec := NewReconciler(store, gw, nil, NewDebounce(time.Minute))
	broadcaster := &fakeBroadcaster{}
	forwarder := &fakeForwarder{}
	flood := NewFloodAggregator(time.Hour, func(string, string, []*events.Enriched) {})
	return &handlerFixture{
		handler:     NewHandler(store, rec, flood, forwarder, broadcaster, secret),
		store:       store,
		broadcaster: broadcaster,
		forwarder:   forwarder,
		flood:       flood,
	}
}

func (f *handlerFixture) post(t *testing.T, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/dispatch", bytes.NewReader(data))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.Dispatch(w, req)
	return w
}

func TestDispatchRejectsBadSecret(t *testing.T) {
	f := newHandlerFixture("s3cret")
	w := f.post(t, map[string]any{"connection": "conn-1", "event": "messages.upsert", "data": map[string]any{}}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestDispatchRejectsMissingFields(t *testing.T) {
	f := newHandlerFixture("")
	w := f.post(t, map[string]any{"event": "messages.upsert"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDispatchAcknowledgesUnknownConnection(t *testing.T) {
	f := newHandlerFixture("")
	w := f.post(t, map[string]any{"connection": "ghost", "event": "messages.upsert", "data": map[string]any{}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out events.Enriched
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.IsIgnored() {
		t.Errorf("response not tagged ignored: %+v", out)
	}
}

func TestDispatchMessageBroadcastsAndBuffers(t *testing.T) {
	f := newHandlerFixture("s3cret")
	testConnection(f.store)

	body := map[string]any{
		"connection": "conn-1",
		"event":      events.TypeMessagesUpsert,
		"data": map[string]any{
			"key":      map[string]any{"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "m1"},
			"pushName": "Maria",
			"message":  map[string]any{"conversation": "oi"},
		},
	}
	w := f.post(t, body, map[string]string{"X-Webhook-Secret": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if len(f.broadcaster.keys) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(f.broadcaster.keys))
	}
	keys := f.broadcaster.keys[0]
	if len(keys) != 2 || keys[0] != "admin-1" || keys[1] != "connection:conn-1" {
		t.Errorf("recipient keys = %v", keys)
	}

	if f.flood.Pending() != 1 {
		t.Errorf("flood buckets = %d, want 1", f.flood.Pending())
	}
	if len(f.forwarder.events) != 0 {
		t.Errorf("message event forwarded immediately, want flood buffering")
	}
}

func TestDispatchConnectionEventForwardsImmediately(t *testing.T) {
	f := newHandlerFixture("")
	conn := testConnection(f.store)
	conn.Numero = nil
	conn.Status = false

	body := map[string]any{
		"connection": "conn-1",
		"event":      events.TypeConnectionUpdate,
		"data":       map[string]any{"state": "open", "wuid": "5511000000000@s.whatsapp.net"},
	}
	w := f.post(t, body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.forwarder.events) != 1 {
		t.Fatalf("forwarded %d events, want 1", len(f.forwarder.events))
	}
	if f.flood.Pending() != 0 {
		t.Error("connection event landed in flood buffer")
	}
}

func TestDispatchDuplicatePairingConflicts(t *testing.T) {
	f := newHandlerFixture("")
	testConnection(f.store)
	f.store.conns["conn-2"] = &models.Connection{ID: "conn-2", UserID: "admin-1", Nome: "Dup"}

	body := map[string]any{
		"connection": "conn-2",
		"event":      events.TypeConnectionUpdate,
		"data":       map[string]any{"state": "open", "wuid": "5511000000000@s.whatsapp.net"},
	}
	w := f.post(t, body, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	// The failure is still announced to the tenant's live clients.
	if len(f.broadcaster.keys) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(f.broadcaster.keys))
	}
}

func TestDispatchMissingAddressIsBadRequest(t *testing.T) {
	f := newHandlerFixture("")
	testConnection(f.store)

	body := map[string]any{
		"connection": "conn-1",
		"event":      events.TypeMessagesUpsert,
		"data": map[string]any{
			"key":     map[string]any{"fromMe": false, "id": "m1"},
			"message": map[string]any{"conversation": "oi"},
		},
	}
	w := f.post(t, body, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestConnectionSnapshotsAreIsolated(t *testing.T) {
	f := newHandlerFixture("")
	testConnection(f.store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	first, err := f.handler.connection(req, "conn-1")
	if err != nil || first == nil {
		t.Fatalf("connection() = %v, %v", first, err)
	}
	first.Status = false
	first.Numero = nil

	second, err := f.handler.connection(req, "conn-1")
	if err != nil || second == nil {
		t.Fatalf("connection() = %v, %v", second, err)
	}
	if first == second {
		t.Fatal("two requests share one connection struct")
	}
	if !second.Status || second.Numero == nil {
		t.Error("mutation through one request leaked into the cached snapshot")
	}
}

func TestDispatchConcurrentPairingAndMessages(t *testing.T) {
	f := newHandlerFixture("")
	testConnection(f.store)

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var body map[string]any
			if i%2 == 0 {
				body = map[string]any{
					"connection": "conn-1",
					"event":      events.TypeConnectionUpdate,
					"data":       map[string]any{"state": "open", "wuid": "5511000000000@s.whatsapp.net"},
				}
			} else {
				body = map[string]any{
					"connection": "conn-1",
					"event":      events.TypeMessagesUpsert,
					"data": map[string]any{
						"key":      map[string]any{"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": fmt.Sprintf("m%d", i)},
						"pushName": "Maria",
						"message":  map[string]any{"conversation": "oi"},
					},
				}
			}
			codes[i] = f.post(t, body, nil).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d status = %d, want 200", i, code)
		}
	}
}

func TestDispatchIgnoredEventNotBroadcast(t *testing.T) {
	f := newHandlerFixture("")
	testConnection(f.store)

	body := map[string]any{
		"connection": "conn-1",
		"event":      events.TypeMessagesUpsert,
		"data": map[string]any{
			"key":     map[string]any{"remoteJid": "123-456@g.us", "fromMe": false, "id": "m1"},
			"message": map[string]any{"conversation": "oi"},
		},
	}
	w := f.post(t, body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(f.broadcaster.keys) != 0 {
		t.Error("ignored event was broadcast")
	}
	if f.flood.Pending() != 0 {
		t.Error("ignored event was buffered")
	}
}
