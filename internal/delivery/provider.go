// Package delivery sends outbound messages through the chat provider's API
// and reconciles its asynchronous delivery-status callbacks.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/replyflow-ai/messaging-pipeline/pkg/retry"
)

// API is the provider's message-send surface.
type API interface {
	// Send delivers a text message and returns the provider message id.
	Send(ctx context.Context, to, body string) (string, error)
}

// Client talks to the provider's cloud messaging API.
type Client struct {
	baseURL  string
	token    string
	senderID string
	http     *http.Client
}

// NewClient creates a provider client. Timeouts are enforced per attempt at
// the HTTP-client level; retries live in the Sender.
func NewClient(baseURL, token, senderID string) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		senderID: senderID,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type sendPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts one text message. Non-2xx responses surface as
// retry.StatusError so the retry engine can classify them.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(sendPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.senderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &retry.StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse send response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", errors.New("send response carried no message id")
	}

	return parsed.Messages[0].ID, nil
}
