// Package fetcher is the single egress point for portal traffic. It layers
// per-portal rate limiting, retry with Retry-After awareness, circuit
// breaking, and the egress address policy over net/http.
package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/resilience"
	"github.com/sells-group/evidence-cli/internal/telemetry"
)

// Options configures the portal HTTP client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// Retries counts retries after the first attempt. Default: 2.
	Retries int
	// MinDelay seeds exponential backoff between retries. Default: 200ms.
	MinDelay time.Duration
	// MaxBodyBytes caps how much of any response body is read. Default: 64 MiB.
	MaxBodyBytes int64
	Recorder     *telemetry.Recorder
	// AllowLocal disables the egress address policy so tests can target
	// loopback servers. Never set outside tests.
	AllowLocal bool
}

// RequestContext tags a call for telemetry and rate limiting.
type RequestContext struct {
	PortalType model.PortalType
	PortalURL  string
	// MinInterval spaces successive calls to the same portal host. Zero
	// disables limiting for the call.
	MinInterval time.Duration
}

// RateInterval returns the minimum spacing between calls to one portal
// host. Authenticated portals grant more headroom.
func RateInterval(t model.PortalType, hasToken bool) time.Duration {
	switch t {
	case model.PortalSocrata:
		if hasToken {
			return 100 * time.Millisecond
		}
		return 500 * time.Millisecond
	case model.PortalArcGIS:
		if hasToken {
			return 100 * time.Millisecond
		}
		return 400 * time.Millisecond
	case model.PortalDCAT:
		return 200 * time.Millisecond
	}
	return 500 * time.Millisecond
}

// Client executes portal requests. Safe for concurrent use; calls to the
// same portal host are serialized through its limiter.
type Client struct {
	client   *http.Client
	opts     Options
	breakers *resilience.PortalBreakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient builds a Client with the egress policy wired into the dialer.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "evidence-cli/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 2
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = 200 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.Default
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !opts.AllowLocal {
		dialer.Control = EgressControl
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:     opts,
		breakers: resilience.NewPortalBreakers(resilience.DefaultBreakerConfig()),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns (creating if needed) the limiter for a portal host,
// keyed by host and spaced at interval.
func (c *Client) limiterFor(host string, interval time.Duration) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		c.limiters[host] = lim
		return lim
	}
	if want := rate.Every(interval); lim.Limit() != want {
		lim.SetLimit(want)
	}
	return lim
}

// Response carries the raw outcome of one portal call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Get fetches the URL through the egress policy, rate limiter, circuit
// breaker, and retry budget.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, rc RequestContext) (*Response, error) {
	if !c.opts.AllowLocal {
		if err := ValidateEgressURL(rawURL); err != nil {
			zap.L().Error("egress rejected", zap.String("url", rawURL), zap.Error(err))
			return nil, err
		}
	}

	if rc.MinInterval > 0 {
		key := model.Portal{URL: rawURL}.Domain()
		if rc.PortalURL != "" {
			key = model.Portal{URL: rc.PortalURL}.Domain()
		}
		if err := c.limiterFor(key, rc.MinInterval).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	breaker := c.breakers.For(model.Portal{URL: rawURL}.Domain())
	cfg := resilience.RetryConfig{
		MaxAttempts:    c.opts.Retries + 1,
		InitialBackoff: c.opts.MinDelay,
		OnRetry:        resilience.RetryLogger(string(rc.PortalType), "portal fetch"),
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return resilience.CallVal(ctx, breaker, func(ctx context.Context) (*Response, error) {
			return c.doOnce(ctx, rawURL, headers, rc)
		})
	})
}

func (c *Client) doOnce(ctx context.Context, rawURL string, headers map[string]string, rc RequestContext) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		// Empty values would send dangling headers; skip them.
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if IsEgressBlocked(err) {
			return nil, err
		}
		c.opts.Recorder.Record(telemetry.Event{
			Kind:       telemetry.KindNetwork,
			PortalType: rc.PortalType,
			PortalURL:  rc.PortalURL,
			Endpoint:   rawURL,
		})
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		c.opts.Recorder.Record(telemetry.Event{
			Kind:       telemetry.KindNetwork,
			PortalType: rc.PortalType,
			PortalURL:  rc.PortalURL,
			Endpoint:   rawURL,
		})
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	c.opts.Recorder.Record(telemetry.Event{
		Status:     resp.StatusCode,
		PortalType: rc.PortalType,
		PortalURL:  rc.PortalURL,
		Endpoint:   rawURL,
	})
	httpErr := eris.Errorf("fetcher: http %d from %s", resp.StatusCode, rawURL)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		te := resilience.NewTransientError(httpErr, resp.StatusCode)
		te.RetryAfter = parseRetryAfter(resp.Header, time.Now())
		return nil, te
	}
	return nil, httpErr
}

// GetJSON fetches the URL and decodes the body into out. A body that is
// not valid JSON is a terminal failure, never retried.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, rc RequestContext, out any) (*Response, error) {
	resp, err := c.Get(ctx, rawURL, headers, rc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return resp, nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		c.opts.Recorder.Record(telemetry.Event{
			Kind:       telemetry.KindInvalidJSON,
			Status:     resp.Status,
			PortalType: rc.PortalType,
			PortalURL:  rc.PortalURL,
			Endpoint:   rawURL,
		})
		return nil, eris.Wrap(err, "fetcher: decode json")
	}
	return resp, nil
}

// GetText fetches the URL and returns the body as a string.
func (c *Client) GetText(ctx context.Context, rawURL string, headers map[string]string, rc RequestContext) (string, *Response, error) {
	resp, err := c.Get(ctx, rawURL, headers, rc)
	if err != nil {
		return "", nil, err
	}
	return string(resp.Body), resp, nil
}

// ErrTooLarge marks a distribution download over the configured cap.
var ErrTooLarge = eris.New("fetcher: download too large")

// Download fetches a dataset distribution, rejecting bodies over maxBytes.
// The Content-Length header is honored before any bytes are transferred.
func (c *Client) Download(ctx context.Context, rawURL string, maxBytes int64, rc RequestContext) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, nil, rc)
	if err != nil {
		return nil, err
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n > maxBytes {
			return nil, eris.Wrapf(ErrTooLarge, "%d bytes from %s", n, rawURL)
		}
	}
	if int64(len(resp.Body)) > maxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "body exceeds %d bytes from %s", maxBytes, rawURL)
	}
	return resp.Body, nil
}

// parseRetryAfter reads a Retry-After header as either delta seconds or an
// HTTP date. Zero means no usable hint.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
