// Package api fetches vehicle snapshots from the upstream feed server.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 10 * time.Second

const (
	statusPath = "/api/status"
	// maxBody caps a snapshot body; a city-wide feed is well below this.
	maxBody = 32 << 20
)

// Client fetches one snapshot per call. It never retries; the caller's
// next scheduled poll is the retry.
type Client struct {
	feedURL    string
	apiKey     string
	accept     string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a client for feedURL. Format "gtfsrt" asks for protobuf,
// anything else for JSON.
func New(feedURL, apiKey string, timeout time.Duration, format string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	accept := "application/json"
	if format == "gtfsrt" {
		accept = "application/x-protobuf"
	}
	return &Client{
		feedURL:    feedURL,
		apiKey:     apiKey,
		accept:     accept,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// FetchVehicles returns the raw snapshot body. Non-2xx responses, network
// failures and timeouts are errors.
func (c *Client) FetchVehicles(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", c.accept)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("vehicle request timed out after %s: %w", c.timeout, err)
		}
		return nil, fmt.Errorf("vehicle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("vehicle request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read vehicle response: %w", err)
	}
	return body, nil
}

// Healthcheck checks that the feed server's status endpoint answers 200.
func (c *Client) Healthcheck(ctx context.Context) error {
	u, err := url.Parse(c.feedURL)
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}
	u.Path = statusPath
	u.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}
