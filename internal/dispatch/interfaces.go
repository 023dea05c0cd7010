package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"zapdesk/internal/events"
	"zapdesk/internal/media"
	"zapdesk/internal/models"
)

// Store is the slice of the persistence layer the dispatch pipeline needs.
// *db.Store satisfies it; tests plug in fakes.
type Store interface {
	GetConnectionFull(ctx context.Context, id string) (*models.Connection, error)
	SetConnectionPaired(ctx context.Context, id, numero string) error
	DeleteConnection(ctx context.Context, id string) error
	DeleteAttendantsByConnection(ctx context.Context, connectionID string) error
	FindActiveConnectionByNumber(ctx context.Context, ownerID, numero, excludeID string) (*models.Connection, error)
	ListSiblingNumbers(ctx context.Context, ownerID, excludeConnectionID string) ([]string, error)
	ListAttendantNumbers(ctx context.Context, adminID string) ([]string, error)

	GetChatByContact(ctx context.Context, connectionID, numero string) (*models.Chat, error)
	UpsertChat(ctx context.Context, chat *models.Chat) (*models.Chat, error)
	SetChatName(ctx context.Context, chatID, nome string) error
	SetChatAutomation(ctx context.Context, chatID string, enabled bool) error
	ReopenChat(ctx context.Context, chatID string) error
	UpsertChatRead(ctx context.Context, chatID, connectionID string, at time.Time) error

	GetChatMessage(ctx context.Context, connectionID, providerID string) (*models.Message, error)
	UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	SoftDeleteMessage(ctx context.Context, chatID, providerID string) error
}

// Gateway is the slice of the gateway client the pipeline needs.
type Gateway interface {
	ProfilePictureURL(ctx context.Context, connectionID, number string) (string, error)
	DeleteInstance(ctx context.Context, connectionID string) error
}

// Materializer turns a media-bearing payload into a stored public reference.
// A nil Materializer disables media persistence.
type Materializer interface {
	Materialize(ctx context.Context, connectionID, messageID string, kind events.MediaKind, part *events.MediaPart, raw json.RawMessage) (*media.Result, bool)
}

// Broadcaster fans a serialized event out to the recipient keys.
type Broadcaster interface {
	Publish(keys []string, payload any)
}

// Forwarder sends enriched events downstream to the automation engine.
type Forwarder interface {
	ForwardNow(ctx context.Context, ev *events.Enriched)
}

// ErrDuplicateConnection marks a pairing rejected because the number is
// already active on a sibling connection of the same owner.
var ErrDuplicateConnection = errors.New("number already paired to another connection")

// ErrMissingAddress marks a message payload without any usable remoteJid.
var ErrMissingAddress = errors.New("payload has no remoteJid")
