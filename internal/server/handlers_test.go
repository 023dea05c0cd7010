package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"zapdesk/internal/db"
	"zapdesk/internal/fanout"
	"zapdesk/internal/gateway"
	"zapdesk/internal/models"
)

type sendFixture struct {
	server *Server
	store  *db.Store
	conn   *models.Connection
	chat   *models.Chat
}

// newSendFixture assembles a server over a throwaway sqlite store and a stub
// gateway that answers every call with gatewayReply.
func newSendFixture(t *testing.T, gatewayReply string) *sendFixture {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(gatewayReply))
	}))
	t.Cleanup(gwSrv.Close)

	admin := &models.User{Email: "admin@example.com", Nome: "Admin", TipoDeUsuario: models.UserTypeAdmin}
	if err := store.CreateUser(ctx, admin); err != nil {
		t.Fatalf("create user: %v", err)
	}
	numero := "5511000000000"
	conn := &models.Connection{UserID: admin.ID, Nome: "Suporte", Numero: &numero, Status: true}
	if err := store.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	chat, err := store.UpsertChat(ctx, &models.Chat{
		ConnectionID:  conn.ID,
		ContatoNome:   "Maria",
		ContatoNumero: "5511999999999",
		IAAtiva:       true,
		Status:        models.ChatStatusOpen,
	})
	if err != nil {
		t.Fatalf("upsert chat: %v", err)
	}

	s := &Server{
		store:       store,
		gw:          gateway.NewClient(gwSrv.URL, "test-key", time.Second),
		broadcaster: fanout.NewBroadcaster(),
	}
	return &sendFixture{server: s, store: store, conn: conn, chat: chat}
}

func (f *sendFixture) send(t *testing.T, text string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/chats/"+f.chat.ID+"/messages", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": f.chat.ID})
	w := httptest.NewRecorder()
	f.server.sendMessage(w, req)
	return w
}

func TestSendMessagePersistsUnderProviderID(t *testing.T) {
	f := newSendFixture(t, `{"key":{"id":"3EB0AABB1122"},"status":"PENDING"}`)
	sub := f.server.broadcaster.Subscribe(f.conn.UserID)

	w := f.send(t, "olá, posso ajudar?")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got models.Message
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "3EB0AABB1122" {
		t.Errorf("message id = %q, want the provider id", got.ID)
	}
	if got.Remetente != models.SenderUser {
		t.Errorf("remetente = %q, want %q", got.Remetente, models.SenderUser)
	}

	ctx := context.Background()

	// The gateway echoes the send back through the webhook under the same
	// id; that upsert must converge on the already stored row.
	text := "olá, posso ajudar?"
	if _, err := f.store.UpsertMessage(ctx, &models.Message{
		ID:        "3EB0AABB1122",
		ChatID:    f.chat.ID,
		Remetente: models.SenderUser,
		Mensagem:  &text,
	}); err != nil {
		t.Fatalf("echo upsert: %v", err)
	}
	msgs, err := f.store.ListMessagesByChat(ctx, f.chat.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}

	chat, err := f.store.GetChat(ctx, f.chat.ID)
	if err != nil || chat == nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.IAAtiva {
		t.Error("sending by hand did not disable automation")
	}

	select {
	case <-sub.Events():
	default:
		t.Error("send was not broadcast to the admin stream")
	}
}

func TestSendMessageWithoutProviderIDDefersToEcho(t *testing.T) {
	f := newSendFixture(t, `{}`)

	w := f.send(t, "oi")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	msgs, err := f.store.ListMessagesByChat(context.Background(), f.chat.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages = %d, want 0 until the webhook echo lands", len(msgs))
	}
}
