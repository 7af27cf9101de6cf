package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Client is a small wrapper around http.Client with sane defaults, an
// optional per-client rate limit, and exponential retry on 429/5xx and
// transport errors. Every upstream gets its own Client so one slow or
// throttled provider cannot starve the others.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
	// MaxTries bounds retry attempts per request; <= 0 means defaultMaxTries.
	MaxTries int
	// Limiter gates outbound calls; nil means unlimited.
	Limiter *rate.Limiter
}

const defaultMaxTries = 4

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "marketdata/1.0",
	}
}

// SetRateLimit caps outbound calls at perMinute requests per minute.
func (c *Client) SetRateLimit(perMinute float64, burst int) {
	if perMinute <= 0 {
		c.Limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.Limiter = rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

// Do performs the request with the client's rate limit and retry policy.
// 429 responses honor Retry-After; 5xx and transport errors retry with
// exponential backoff. Other statuses are returned to the caller as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	c.applyHeaders(req)

	// A non-replayable body cannot be retried safely.
	if req.Body != nil && req.GetBody == nil {
		return c.HTTP.Do(req)
	}

	op := func() (*http.Response, error) {
		attempt := req
		if req.Body != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			attempt = req.Clone(ctx)
			attempt.Body = body
		}
		resp, err := c.HTTP.Do(attempt)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			discard(resp)
			return nil, backoff.RetryAfter(retryAfterSeconds(resp))
		case resp.StatusCode >= 500:
			discard(resp)
			return nil, fmt.Errorf("%s %s: upstream status %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		return resp, nil
	}

	tries := c.MaxTries
	if tries <= 0 {
		tries = defaultMaxTries
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(tries)),
	)
}

// GetJSON issues a GET and decodes the JSON body into out. Numbers decode as
// json.Number so price fields can be parsed as decimals without a float trip.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u := rawURL
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("GET %s -> %d: %s", rawURL, resp.StatusCode, string(b))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", rawURL, err)
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

func retryAfterSeconds(resp *http.Response) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return secs
		}
	}
	return 1
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
