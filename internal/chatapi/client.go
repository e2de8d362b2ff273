// Package chatapi is the HTTP client for the chat backend's REST
// operations: history fetch, send, and the two receipt notifications.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matchpulse/chatsync/internal/model"
)

// ErrRejected marks a request the server understood and refused, as opposed
// to a transport failure. Both roll an optimistic send back; the distinction
// is only surfaced in the failure notice.
var ErrRejected = errors.New("request rejected by server")

// Config holds client settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the chat backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a backend client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Partner is the counterpart's profile as returned with chat history.
type Partner struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// History is the getChatHistory response.
type History struct {
	Messages []model.WireMessage `json:"messages"`
	Partner  Partner             `json:"partner"`
	Privacy  model.PrivacyPolicy `json:"privacy"`
}

// SendResult is the server acknowledgement of a send.
type SendResult struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
	Delivered bool      `json:"delivered"`
}

// GetChatHistory fetches the full message log and privacy policy for a
// conversation.
func (c *Client) GetChatHistory(ctx context.Context, partnerID string) (*History, error) {
	var out History
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/chats/%s", partnerID), nil, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat history: %w", err)
	}
	return &out, nil
}

type sendRequest struct {
	Body      string          `json:"message"`
	Type      model.MessageType `json:"message_type"`
	MatchData json.RawMessage `json:"match_data,omitempty"`
}

// SendMessage submits a message and returns the canonical identity the
// server assigned to it.
func (c *Client) SendMessage(ctx context.Context, partnerID, body string, typ model.MessageType, matchData json.RawMessage) (SendResult, error) {
	req := sendRequest{Body: body, Type: typ, MatchData: matchData}

	var out SendResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/chats/%s/messages", partnerID), req, &out)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to send message: %w", err)
	}
	return out, nil
}

// MarkMessagesRead notifies the backend that every message from the partner
// has been read locally.
func (c *Client) MarkMessagesRead(ctx context.Context, partnerID string) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/chats/%s/read", partnerID), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// MarkMessagesDelivered notifies the backend that the partner's pending
// messages reached this client.
func (c *Client) MarkMessagesDelivered(ctx context.Context, partnerID string) error {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/chats/%s/delivered", partnerID), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to mark messages delivered: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%w: %s (status %d)", ErrRejected, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
