package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/driftkit/driftsync/internal/event"
)

// Client is an HTTP Replica speaking a small JSON protocol:
//
//	POST {base}/v1/sync/push   {"events": [...]} -> PushResult
//	GET  {base}/v1/sync/pull?since=<ms>          -> {"events": [...]}
//	GET  {base}/healthz                          -> 200
type Client struct {
	base string
	http *http.Client
}

// ClientOption tunes a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying http.Client (timeouts, transport).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for the replica at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote client: parse %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote client: %q is not an absolute URL", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type pushRequest struct {
	Events []*event.Event `json:"events"`
}

type pullResponse struct {
	Events []*event.Event `json:"events"`
}

// Push sends the batch in one call and decodes the per-event result.
// Any transport or non-2xx failure is a whole-batch error.
func (c *Client) Push(ctx context.Context, events []*event.Event) (*PushResult, error) {
	body, err := json.Marshal(pushRequest{Events: events})
	if err != nil {
		return nil, fmt.Errorf("remote push: encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/v1/sync/push", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote push: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote push: unexpected status %s", resp.Status)
	}
	var result PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("remote push: decode response: %w", err)
	}
	return &result, nil
}

// Pull fetches events newer than since (ms since epoch).
func (c *Client) Pull(ctx context.Context, since int64) ([]*event.Event, error) {
	u := c.base + "/v1/sync/pull?since=" + strconv.FormatInt(since, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("remote pull: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote pull: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote pull: unexpected status %s", resp.Status)
	}
	var out pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote pull: decode response: %w", err)
	}
	return out.Events, nil
}

// HealthCheck probes {base}/healthz.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("remote health: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote health: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote health: unexpected status %s", resp.Status)
	}
	return nil
}

// drain empties and closes the body so the connection is reusable.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
