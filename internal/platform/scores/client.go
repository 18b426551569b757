// Package scores implements domain.ResultSource against the score authority's
// HTTP API. The authority is the single source of truth for final results;
// anything short of a committed final score is reported as
// domain.ErrResultUnavailable so callers retry later.
package scores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

// Client is an HTTP client for the score authority.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new score authority client.
//
// baseURL is the API root, e.g. "https://scores.example.com/v1".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// finalScoreResponse is the authority's result envelope.
type finalScoreResponse struct {
	EventRef string `json:"event_ref"`
	Final    bool   `json:"final"`
	Home     int    `json:"home_score"`
	Away     int    `json:"away_score"`
}

// Final fetches the committed final score for an event. It returns
// domain.ErrResultUnavailable when the authority does not yet have a final
// result (404, 202, or a non-final payload); transport and server errors are
// returned as-is so the caller can distinguish outage from absence.
func (c *Client) Final(ctx context.Context, eventRef string) (domain.FinalScore, error) {
	url := fmt.Sprintf("%s/events/%s/result", c.baseURL, eventRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.FinalScore{}, fmt.Errorf("scores: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.FinalScore{}, fmt.Errorf("scores: fetch result for %s: %w", eventRef, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusAccepted:
		return domain.FinalScore{}, domain.ErrResultUnavailable
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.FinalScore{}, fmt.Errorf("scores: fetch result for %s: HTTP %d: %s",
			eventRef, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.FinalScore{}, fmt.Errorf("scores: read result for %s: %w", eventRef, err)
	}

	var out finalScoreResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// A malformed payload is treated as an absent result rather than a
		// settlement input. The next settler pass retries.
		return domain.FinalScore{}, domain.ErrResultUnavailable
	}
	if !out.Final {
		return domain.FinalScore{}, domain.ErrResultUnavailable
	}
	if out.Home < 0 || out.Away < 0 {
		return domain.FinalScore{}, domain.ErrResultUnavailable
	}

	return domain.FinalScore{Home: out.Home, Away: out.Away}, nil
}

// Compile-time interface check.
var _ domain.ResultSource = (*Client)(nil)
