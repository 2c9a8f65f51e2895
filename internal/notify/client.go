// Package notify forwards significant occurrences to a chat webhook.
// Consecutive assistant text accumulates into one message, tool outcomes
// and final results flush immediately, and every message for a session
// lands in the same thread.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client posts messages to a chat webhook.
type Client struct {
	webhookURL string
	client     *http.Client
}

// NewClient creates a webhook client.
func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// postRequest is the webhook message body.
type postRequest struct {
	Text           string `json:"text"`
	Channel        string `json:"channel,omitempty"`
	ThreadTS       string `json:"thread_ts,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// postResponse is the webhook's reply; TS identifies the created message
// and doubles as the thread token for replies.
type postResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts,omitempty"`
	Error string `json:"error,omitempty"`
}

// Post sends one message, retrying transient failures.
func (c *Client) Post(ctx context.Context, msg postRequest) (postResponse, error) {
	jsonBody, err := json.Marshal(msg)
	if err != nil {
		return postResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.doWithRetry(ctx, jsonBody)
	if err != nil {
		return postResponse{}, err
	}

	var resp postResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Plain-text "ok" bodies are fine; anything parseable as JSON
		// that fails here is not.
		return postResponse{OK: true}, nil
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("webhook error: %s", resp.Error)
	}
	return resp, nil
}

// doWithRetry executes the webhook request with retry logic for transient
// errors. Retries up to 3 times on HTTP 429 or 5xx with exponential
// backoff (1s, 2s, 4s). Honors the Retry-After header on 429 responses.
func (c *Client) doWithRetry(ctx context.Context, jsonBody []byte) ([]byte, error) {
	maxRetries := 3
	backoffs := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoffs[attempt]):
				}
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoffs[attempt]):
				}
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		// Retry on 429 (rate limited) or 5xx (server error).
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(body))

			if attempt < maxRetries {
				delay := backoffs[attempt]
				if resp.StatusCode == http.StatusTooManyRequests {
					if ra := resp.Header.Get("Retry-After"); ra != "" {
						if seconds, parseErr := strconv.Atoi(ra); parseErr == nil && seconds > 0 {
							delay = time.Duration(seconds) * time.Second
							if delay > 30*time.Second {
								delay = 30 * time.Second
							}
						}
					}
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
			continue
		}

		// Non-retryable error (e.g. 400, 401, 403).
		return nil, fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("webhook request failed after %d retries: %w", maxRetries, lastErr)
}
