// Package treasury implements domain.Transferrer against the platform's
// internal balance service. Every call carries an idempotency key, so the
// outbox dispatcher can retry a transfer without ever paying twice.
package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

// Client is an HTTP client for the treasury balance service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new treasury client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// transferRequest is the balance service's credit envelope.
type transferRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Transfer credits amount minor units to the given account. The idempotency
// key is sent in the Idempotency-Key header; the balance service deduplicates
// on it, so a retried call after a timeout is safe. A 409 from the service
// means the key was already applied and is treated as success.
func (c *Client) Transfer(ctx context.Context, idempotencyKey, account string, amount int64) error {
	payload, err := json.Marshal(transferRequest{Account: account, Amount: amount})
	if err != nil {
		return fmt.Errorf("treasury: marshal transfer: %w", err)
	}

	url := c.baseURL + "/transfers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("treasury: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("treasury: transfer %s: %w", idempotencyKey, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already applied under this idempotency key.
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("treasury: transfer %s: HTTP %d: %s",
			idempotencyKey, resp.StatusCode, string(body))
	}
}

// Compile-time interface check.
var _ domain.Transferrer = (*Client)(nil)
