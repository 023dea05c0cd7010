package events

import (
	"encoding/json"
	"testing"
)

func TestRemoteAddressFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		in   MessageUpsert
		want string
	}{
		{"key wins", MessageUpsert{Key: MessageKey{RemoteJID: "a"}, RemoteJID: "b", To: "c", JID: "d"}, "a"},
		{"top-level second", MessageUpsert{RemoteJID: "b", To: "c", JID: "d"}, "b"},
		{"to third", MessageUpsert{To: "c", JID: "d"}, "c"},
		{"jid last", MessageUpsert{JID: "d"}, "d"},
		{"nothing", MessageUpsert{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.RemoteAddress(); got != tt.want {
				t.Errorf("RemoteAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRealNumberPrefersSenderPn(t *testing.T) {
	m := MessageUpsert{SenderPn: "a", ParticipantPn: "b"}
	if m.RealNumber() != "a" {
		t.Errorf("RealNumber() = %q, want a", m.RealNumber())
	}
	m = MessageUpsert{ParticipantPn: "b"}
	if m.RealNumber() != "b" {
		t.Errorf("RealNumber() = %q, want b", m.RealNumber())
	}
}

func TestDecodeChatsUpsertShapes(t *testing.T) {
	if got := DecodeChatsUpsert(json.RawMessage(`[{"remoteJid":"x"},{"remoteJid":"y"}]`)); got != "x" {
		t.Errorf("array shape = %q, want x", got)
	}
	if got := DecodeChatsUpsert(json.RawMessage(`{"remoteJid":"z"}`)); got != "z" {
		t.Errorf("object shape = %q, want z", got)
	}
	if got := DecodeChatsUpsert(json.RawMessage(`[]`)); got != "" {
		t.Errorf("empty array = %q, want empty", got)
	}
	if got := DecodeChatsUpsert(json.RawMessage(`"garbage"`)); got != "" {
		t.Errorf("garbage = %q, want empty", got)
	}
}

func TestBodyFallsBackToExtendedText(t *testing.T) {
	var content MessageContent
	if err := json.Unmarshal([]byte(`{"extendedTextMessage":{"text":"oi"}}`), &content); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if content.Body() != "oi" {
		t.Errorf("Body() = %q, want oi", content.Body())
	}
	content = MessageContent{Conversation: "direto"}
	if content.Body() != "direto" {
		t.Errorf("Body() = %q, want direto", content.Body())
	}
}

func TestMediaSelection(t *testing.T) {
	content := MessageContent{Audio: &MediaPart{Mimetype: "audio/ogg"}}
	kind, part := content.Media()
	if kind != MediaAudio || part == nil || part.Mimetype != "audio/ogg" {
		t.Errorf("Media() = (%q, %+v)", kind, part)
	}

	content = MessageContent{}
	if kind, _ := content.Media(); kind != MediaNone {
		t.Errorf("empty content classified as %q", kind)
	}
}

func TestPlaceholderOrder(t *testing.T) {
	raw := json.RawMessage(`{}`)

	// An event message outranks every other placeholder type.
	content := MessageContent{EventMsg: raw, Poll: raw, Location: raw}
	if got, ok := content.Placeholder(); !ok || got != "[Evento]" {
		t.Errorf("Placeholder() = (%q, %v)", got, ok)
	}

	content = MessageContent{Interactive: raw}
	if got, ok := content.Placeholder(); !ok || got != "[Mensagem interativa]" {
		t.Errorf("Placeholder() = (%q, %v)", got, ok)
	}

	content = MessageContent{Conversation: "texto"}
	if _, ok := content.Placeholder(); ok {
		t.Error("plain text should have no placeholder")
	}
}

func TestMessageDeleteIDFallback(t *testing.T) {
	d := MessageDelete{Key: &MessageKey{ID: "from-key"}, ID: "bare"}
	if d.MessageID() != "from-key" {
		t.Errorf("MessageID() = %q, want from-key", d.MessageID())
	}
	d = MessageDelete{ID: "bare"}
	if d.MessageID() != "bare" {
		t.Errorf("MessageID() = %q, want bare", d.MessageID())
	}
}

func TestIgnoredVariant(t *testing.T) {
	ev := Ignored("motivo")
	if !ev.IsIgnored() || ev.Reason != "motivo" {
		t.Errorf("Ignored() = %+v", ev)
	}
	var nilEv *Enriched
	if !nilEv.IsIgnored() {
		t.Error("nil event should read as ignored")
	}
	if (&Enriched{Event: TypeMessagesUpsert}).IsIgnored() {
		t.Error("real event misread as ignored")
	}
}
