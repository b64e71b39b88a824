// internal/adapters/restapi/client.go
package restapi

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
)

// Client talks to the authoritative restaurant API.
type Client struct {
	base    string
	hc      *http.Client
	rl      *rate.Limiter
	retries int
}

var _ domain.RestaurantAPI = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient swaps the transport, e.g. to route through the interceptor.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithRetries sets how many times an idempotent GET is retried on
// transient failures. Writes are never retried here; the outbox owns that.
func WithRetries(n int) Option { return func(c *Client) { c.retries = n } }

func New(base string, rps int, opts ...Option) (*Client, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if rps <= 0 {
		rps = 10
	}
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		hc:      &http.Client{Timeout: 10 * time.Second},
		rl:      rate.NewLimiter(rate.Limit(rps), rps),
		retries: 2,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ---- Public API ----

func (c *Client) GetRestaurants(ctx context.Context, q domain.ListingQuery) ([]map[string]any, error) {
	v := url.Values{}
	if q.ID != nil {
		v.Set("id", strconv.FormatInt(*q.ID, 10))
	}
	if q.HasCategory() {
		v.Set("cuisine_type", q.Category)
	}
	if q.HasArea() {
		v.Set("neighborhood", q.Area)
	}
	u := c.base + "/restaurants"
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return c.getList(ctx, "restaurants", u)
}

func (c *Client) GetReviews(ctx context.Context, restaurantID int64) ([]map[string]any, error) {
	u := fmt.Sprintf("%s/reviews/?restaurant_id=%d", c.base, restaurantID)
	return c.getList(ctx, "reviews", u)
}

// CreateReview POSTs the review; only 201 Created counts as success.
func (c *Client) CreateReview(ctx context.Context, in domain.ReviewInput) (map[string]any, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode review: %w", err)
	}
	hdr := http.Header{"Content-Type": {"application/json"}}
	if in.ClientKey != "" {
		hdr.Set("Idempotency-Key", in.ClientKey)
	}
	var out map[string]any
	return out, c.send(ctx, "create_review", http.MethodPost, c.base+"/reviews/", hdr, body, http.StatusCreated, &out)
}

// SetFavorite PUTs the new favorite flag; only 200 OK counts as success.
func (c *Client) SetFavorite(ctx context.Context, id int64, favorite bool) (map[string]any, error) {
	u := fmt.Sprintf("%s/restaurants/%d/?is_favorite=%t", c.base, id, favorite)
	var out map[string]any
	return out, c.send(ctx, "set_favorite", http.MethodPut, u, nil, nil, http.StatusOK, &out)
}

// ---- Internals ----

// getList decodes either a JSON array or a single object (which some
// servers return for ?id=) into a slice.
func (c *Client) getList(ctx context.Context, endpoint, u string) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := c.get(ctx, endpoint, u, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one map[string]any
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decode %s: %w", endpoint, err)
		}
		return []map[string]any{one}, nil
	}
	var out []map[string]any
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return out, nil
}

// send performs one non-idempotent request and requires exactly want.
func (c *Client) send(ctx context.Context, endpoint, method, u string, hdr http.Header, body []byte, want int, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "reviews-app/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("restapi", endpoint, 0, time.Since(start))
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, endpoint, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("restapi", endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: got %d want %d: %s",
			domain.ErrUnexpectedStatus, method, endpoint, resp.StatusCode, want, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// get performs a GET with client-side rate limiting, retries, and JSON decode into out.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, endpoint, u string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i <= c.retries; i++ {
		last := i == c.retries
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "reviews-app/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("restapi", endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%w: GET %s: %v", domain.ErrTransport, endpoint, err)
			if !last && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("restapi", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode %s: %w", endpoint, err)
			}
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return fmt.Errorf("GET %s: %w", endpoint, domain.ErrNotFound)

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("%w: GET %s: remote %d", domain.ErrTransport, endpoint, resp.StatusCode)
			if !last && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("%w: GET %s: %d: %s", domain.ErrUnexpectedStatus, endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay (100ms, 200ms, 400ms...) with up to
// +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 100 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
