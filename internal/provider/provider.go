// Package provider is the outbound boundary to the third-party social
// messaging API. A send either yields a provider message id or a typed
// Error carrying the provider's code, HTTP status and message.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Error is a structured provider failure. Network-level failures (no
// response received) are returned as plain wrapped errors, not *Error.
type Error struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"-"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Sender abstracts the provider for the dispatcher and its tests.
type Sender interface {
	Send(ctx context.Context, p Payload) (string, error)
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     logger,
	}
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     *Error `json:"error,omitempty"`
}

// Send delivers one payload to one recipient and returns the provider
// message id. The caller owns retry policy.
func (c *Client) Send(ctx context.Context, p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return "", fmt.Errorf("decode provider response: %w", err)
		}
		// Unparseable error body; keep the status code for classification.
		return "", &Error{Code: "unknown", HTTPStatus: resp.StatusCode, Message: string(raw)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := out.Error
		if perr == nil {
			perr = &Error{Code: "unknown", Message: string(raw)}
		}
		perr.HTTPStatus = resp.StatusCode
		c.log.Debug("provider rejected message",
			zap.String("recipient", p.Recipient),
			zap.String("code", perr.Code),
			zap.Int("http_status", perr.HTTPStatus),
		)
		return "", perr
	}

	if out.MessageID == "" {
		return "", fmt.Errorf("provider returned no message id")
	}
	return out.MessageID, nil
}
