package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client talks to the WhatsApp gateway over its HTTP API. Every call is
// authenticated with the shared apikey header and carries a bounded timeout.
type Client struct {
	http *resty.Client
}

// NewClient builds a gateway client for the given base URL and API key.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetTimeout(timeout)
	return &Client{http: c}
}

// ProfilePictureURL fetches the contact's profile photo URL. Callers treat a
// failure as "no photo"; this method still returns the error for logging.
func (c *Client) ProfilePictureURL(ctx context.Context, connectionID, number string) (string, error) {
	var out struct {
		ProfilePictureURL string `json:"profilePictureUrl"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"number": number}).
		SetResult(&out).
		Post("/chat/fetchProfilePictureUrl/" + connectionID)
	if err != nil {
		return "", fmt.Errorf("fetch profile picture: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch profile picture: gateway returned %d", resp.StatusCode())
	}
	return out.ProfilePictureURL, nil
}

// MediaBase64 asks the gateway for the base64 content of a media message.
// The raw event payload is passed back as-is; the gateway resolves the media
// from the embedded message key.
func (c *Client) MediaBase64(ctx context.Context, connectionID string, message json.RawMessage) (string, error) {
	var out struct {
		Base64 string `json:"base64"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]json.RawMessage{"message": message}).
		SetResult(&out).
		Post("/chat/getBase64FromMediaMessage/" + connectionID)
	if err != nil {
		return "", fmt.Errorf("fetch media base64: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch media base64: gateway returned %d", resp.StatusCode())
	}
	if out.Base64 == "" {
		return "", fmt.Errorf("fetch media base64: empty payload")
	}
	return out.Base64, nil
}

// ReadKey identifies a message to mark as read on the contact's behalf.
type ReadKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MarkMessagesRead marks the given messages as read on the WhatsApp side.
func (c *Client) MarkMessagesRead(ctx context.Context, connectionID string, keys []ReadKey) error {
	if len(keys) == 0 {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"readMessages": keys}).
		Post("/chat/markMessageAsRead/" + connectionID)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark messages read: gateway returned %d", resp.StatusCode())
	}
	return nil
}

// SendText sends a plain text message through the connection's session and
// returns the provider-assigned message id. The gateway echoes the send back
// as a webhook under the same id.
func (c *Client) SendText(ctx context.Context, connectionID, number, text string) (string, error) {
	var out struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"number": number, "text": text}).
		SetResult(&out).
		Post("/message/sendText/" + connectionID)
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("send text: gateway returned %d", resp.StatusCode())
	}
	return out.Key.ID, nil
}

// CreateInstance asks the gateway to create a new WhatsApp session.
func (c *Client) CreateInstance(ctx context.Context, connectionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"instanceName": connectionID}).
		Post("/instance/create")
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("create instance: gateway returned %d", resp.StatusCode())
	}
	return nil
}

// DeleteInstance asks the gateway to tear a session down. Used on disconnect
// and when a duplicate pairing is rolled back.
func (c *Client) DeleteInstance(ctx context.Context, connectionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/instance/delete/" + connectionID)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete instance: gateway returned %d", resp.StatusCode())
	}
	log.Info().Str("connectionID", connectionID).Msg("Gateway instance deleted")
	return nil
}
