// Package logs fetches recent daemon log lines over the HTTP API for the CLI.
package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"studyreel/internal/config"
)

// ErrAPIUnavailable signals that the daemon API did not answer; the daemon is
// probably not running.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client talks to a running daemon's log tail endpoint.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client from the configured bind address and token.
func NewClient(cfg *config.Config) (*Client, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is not configured")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(cfg.Paths.APIToken),
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Tail returns up to limit recent log lines in chronological order.
func (c *Client) Tail(ctx context.Context, limit int) ([]string, error) {
	target := *c.base
	target.Path = "/logs"
	if limit > 0 {
		target.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errors.New("daemon API rejected the configured token")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("log tail request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Lines []string `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode log tail response: %w", err)
	}
	return payload.Lines, nil
}
