package events

import (
	"encoding/json"

	"zapdesk/internal/models"
)

// Event types accepted by the dispatch endpoint. Anything else is
// acknowledged and dropped.
const (
	TypeConnectionUpdate = "connection.update"
	TypeChatsUpsert      = "chats.upsert"
	TypeMessagesUpsert   = "messages.upsert"
	TypeSendMessage      = "send.message"
	TypeMessagesDelete   = "messages.delete"
)

// DispatchRequest is the envelope the gateway posts to /dispatch.
type DispatchRequest struct {
	Connection string          `json:"connection"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
}

// MessageKey identifies a message on the wire.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// ContextInfo carries the citation reference, when the message quotes
// another one.
type ContextInfo struct {
	StanzaID string `json:"stanzaId"`
}

// MediaPart is the common shape of the per-type media blocks.
type MediaPart struct {
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
	FileName string `json:"fileName"`
}

// MessageContent is the union of message bodies the gateway may send.
// Unknown sub-fields are tolerated and ignored.
type MessageContent struct {
	Conversation string `json:"conversation"`
	ExtendedText *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`

	Image    *MediaPart `json:"imageMessage"`
	Audio    *MediaPart `json:"audioMessage"`
	Video    *MediaPart `json:"videoMessage"`
	Sticker  *MediaPart `json:"stickerMessage"`
	Document *MediaPart `json:"documentMessage"`

	Edited   json.RawMessage `json:"editedMessage"`
	Reaction json.RawMessage `json:"reactionMessage"`

	EventMsg    json.RawMessage `json:"eventMessage"`
	Poll        json.RawMessage `json:"pollCreationMessageV3"`
	Location    json.RawMessage `json:"locationMessage"`
	Contact     json.RawMessage `json:"contactMessage"`
	Interactive json.RawMessage `json:"interactiveMessage"`
}

// Body returns the plain text body, if any.
func (m *MessageContent) Body() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedText != nil {
		return m.ExtendedText.Text
	}
	return ""
}

// MediaKind classifies the media payload carried by a message.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaSticker  MediaKind = "sticker"
	MediaDocument MediaKind = "document"
)

// Media returns the media kind and its block, or MediaNone.
func (m *MessageContent) Media() (MediaKind, *MediaPart) {
	if m == nil {
		return MediaNone, nil
	}
	switch {
	case m.Image != nil:
		return MediaImage, m.Image
	case m.Audio != nil:
		return MediaAudio, m.Audio
	case m.Video != nil:
		return MediaVideo, m.Video
	case m.Sticker != nil:
		return MediaSticker, m.Sticker
	case m.Document != nil:
		return MediaDocument, m.Document
	}
	return MediaNone, nil
}

// Placeholder returns the fixed body used for recognized-but-unsupported
// message types, checked in a fixed order, and whether one matched.
func (m *MessageContent) Placeholder() (string, bool) {
	if m == nil {
		return "", false
	}
	switch {
	case m.EventMsg != nil:
		return "[Evento]", true
	case m.Poll != nil:
		return "[Enquete]", true
	case m.Location != nil:
		return "[Localização]", true
	case m.Contact != nil:
		return "[Contato]", true
	case m.Interactive != nil:
		return "[Mensagem interativa]", true
	}
	return "", false
}

// MessageUpsert is the payload of messages.upsert and send.message.
type MessageUpsert struct {
	Key           MessageKey      `json:"key"`
	PushName      string          `json:"pushName"`
	SenderPn      string          `json:"senderPn"`
	ParticipantPn string          `json:"participantPn"`
	RemoteJID     string          `json:"remoteJid"`
	To            string          `json:"to"`
	JID           string          `json:"jid"`
	Message       *MessageContent `json:"message"`
	ContextInfo   *ContextInfo    `json:"contextInfo"`
}

// RemoteJID extraction falls back across the shapes the gateway is known to
// send for message events.
func (m *MessageUpsert) RemoteAddress() string {
	for _, jid := range []string{m.Key.RemoteJID, m.RemoteJID, m.To, m.JID} {
		if jid != "" {
			return jid
		}
	}
	return ""
}

// RealNumber is the sender's actual number, reported alongside opaque
// linked-identity addresses.
func (m *MessageUpsert) RealNumber() string {
	if m.SenderPn != "" {
		return m.SenderPn
	}
	return m.ParticipantPn
}

// ConnectionUpdate is the payload of connection.update.
type ConnectionUpdate struct {
	State string `json:"state"`
	WUID  string `json:"wuid"`
}

// ChatUpsert is one element of the chats.upsert payload, which arrives as an
// array or a single object depending on the gateway version.
type ChatUpsert struct {
	RemoteJID string `json:"remoteJid"`
}

// DecodeChatsUpsert accepts both shapes and returns the first address.
func DecodeChatsUpsert(data json.RawMessage) string {
	var many []ChatUpsert
	if err := json.Unmarshal(data, &many); err == nil && len(many) > 0 {
		return many[0].RemoteJID
	}
	var one ChatUpsert
	if err := json.Unmarshal(data, &one); err == nil {
		return one.RemoteJID
	}
	return ""
}

// MessageDelete is the payload of messages.delete. The gateway sends either
// the full key or a bare id.
type MessageDelete struct {
	Key *MessageKey `json:"key"`
	ID  string      `json:"id"`
}

// MessageID falls back between the two payload shapes.
func (d *MessageDelete) MessageID() string {
	if d.Key != nil && d.Key.ID != "" {
		return d.Key.ID
	}
	return d.ID
}

// DeletedRef is the minimal reference attached to the enriched event for a
// soft-deleted message.
type DeletedRef struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
}

// Enriched is the event written to live clients and forwarded to the
// automation engine after classification.
type Enriched struct {
	Event          string             `json:"event"`
	Connection     *models.Connection `json:"connection,omitempty"`
	State          string             `json:"state,omitempty"`
	Chat           *models.Chat       `json:"chat,omitempty"`
	Message        *models.Message    `json:"message,omitempty"`
	DeletedMessage *DeletedRef        `json:"deletedMessage,omitempty"`
	Error          string             `json:"error,omitempty"`
	Reason         string             `json:"reason,omitempty"`
}

// EventIgnored tags events the pipeline intentionally dropped.
const EventIgnored = "ignored"

// Ignored builds the acknowledgment variant for intentionally dropped events.
func Ignored(reason string) *Enriched {
	return &Enriched{Event: EventIgnored, Reason: reason}
}

// IsIgnored reports whether the enriched event is the dropped-event variant.
func (e *Enriched) IsIgnored() bool {
	return e == nil || e.Event == EventIgnored
}
