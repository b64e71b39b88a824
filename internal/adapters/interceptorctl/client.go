// internal/adapters/interceptorctl/client.go
package interceptorctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
	"reviews_app/internal/interceptor"
)

// Client is the page side of the interception process: it posts messages,
// reads lifecycle state, and hands out HTTP clients routed through it.
type Client struct {
	base *url.URL
	hc   *http.Client
}

var _ domain.WakeRequester = (*Client)(nil)

func New(base string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid interceptor URL %q", base)
	}
	return &Client{base: u, hc: &http.Client{Timeout: 5 * time.Second}}, nil
}

// HTTPClient returns a client whose requests go through the interceptor.
func (c *Client) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(c.base)},
	}
}

func (c *Client) Post(ctx context.Context, m interceptor.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/_interceptor/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("interceptor", m.Action, 0, time.Since(start))
		return fmt.Errorf("%w: post %s: %v", domain.ErrTransport, m.Action, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("interceptor", m.Action, resp.StatusCode, time.Since(start))
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: post %s: %d: %s", domain.ErrUnexpectedStatus, m.Action, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// RequestSync asks the interceptor to run tag later, even if this page is gone.
func (c *Client) RequestSync(ctx context.Context, tag string) error {
	return c.Post(ctx, interceptor.Message{Action: interceptor.ActionSync, Tag: tag})
}

func (c *Client) SkipWaiting(ctx context.Context) error {
	return c.Post(ctx, interceptor.Message{Action: interceptor.ActionSkipWaiting})
}

func (c *Client) Attach(ctx context.Context) error {
	return c.Post(ctx, interceptor.Message{Action: interceptor.ActionAttach})
}

func (c *Client) Detach(ctx context.Context) error {
	return c.Post(ctx, interceptor.Message{Action: interceptor.ActionDetach})
}

func (c *Client) Status(ctx context.Context) (interceptor.Status, error) {
	var st interceptor.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/_interceptor/state", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return st, fmt.Errorf("%w: interceptor state: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("%w: interceptor state: %d", domain.ErrUnexpectedStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode interceptor state: %w", err)
	}
	return st, nil
}
