// Package api is a thin client for the remote notifications endpoint. The
// CRUD API surface is consumed here, not designed; this covers only the
// unseen-notification list the poller needs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatepass/internal/poll"
)

var ErrNoBaseURL = errors.New("api base url not configured")

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements poll.Fetcher against the remote API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  base,
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

// Unseen fetches the viewer's unseen notifications.
func (c *Client) Unseen(ctx context.Context, viewerID string) ([]poll.Item, error) {
	u := c.base + "/v1/notifications?unseen=1&viewer=" + url.QueryEscape(viewerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notifications fetch: unexpected status %d", resp.StatusCode)
	}

	var items []poll.Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("notifications decode: %w", err)
	}
	return items, nil
}
