// Package fetch provides the shared network client used by every source
// adapter. It combines connection pooling, a global outbound-connection
// limit, per-host rate limiting, response caching, and retry of transient
// failures. Adapters never construct their own http.Client; they receive
// a *Client by injection so retry and session state is never global.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/toolharbor/toolharbor/pkg/cache"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/httputil"
	"github.com/toolharbor/toolharbor/pkg/observability"
)

// Options configures a Client.
type Options struct {
	// MaxOutbound caps concurrent outbound requests across all workers.
	MaxOutbound int

	// CallTimeout is the per-request deadline. Exceeding it surfaces as a
	// retryable TIMEOUT error.
	CallTimeout time.Duration

	// RequestsPerSec and Burst shape the per-host token bucket.
	RequestsPerSec float64
	Burst          int

	// Headers are applied to every request (e.g. User-Agent).
	Headers map[string]string
}

func (o Options) withDefaults() Options {
	if o.MaxOutbound <= 0 {
		o.MaxOutbound = 10
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	return o
}

// Client is the rate-limited, connection-pooled HTTP client shared by all
// adapters. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	sem     *semaphore.Weighted
	limiter *hostLimiter
	headers map[string]string
	timeout time.Duration
}

// NewClient creates a Client with the given cache and options.
// Pass a NullCache to disable caching.
func NewClient(c cache.Cache, opts Options) *Client {
	opts = opts.withDefaults()
	if c == nil {
		c = cache.NewNullCache()
	}

	transport := &http.Transport{
		MaxIdleConns:        opts.MaxOutbound * 2,
		MaxIdleConnsPerHost: opts.MaxOutbound,
		MaxConnsPerHost:     opts.MaxOutbound,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http:    &http.Client{Transport: transport},
		cache:   c,
		sem:     semaphore.NewWeighted(int64(opts.MaxOutbound)),
		limiter: newHostLimiter(opts.RequestsPerSec, opts.Burst),
		headers: opts.Headers,
		timeout: opts.CallTimeout,
	}
}

// Cached retrieves a value from cache or executes fetch and caches the
// result. If refresh is true, the cache is bypassed and fetch is always
// called. The fetch function should populate v; on success, v is stored.
func (c *Client) Cached(ctx context.Context, key string, ttl time.Duration, refresh bool, v any, fetch func() error) error {
	if !refresh {
		if data, hit, _ := c.cache.Get(ctx, key); hit {
			if err := json.Unmarshal(data, v); err == nil {
				observability.Fetch().OnCacheHit(ctx, key)
				return nil
			}
		}
		observability.Fetch().OnCacheMiss(ctx, key)
	}
	if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.cache.Set(ctx, key, data, ttl)
	}
	return nil
}

// GetJSON performs an HTTP GET and JSON-decodes the response into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	return c.GetJSONWithHeaders(ctx, rawURL, nil, v)
}

// GetJSONWithHeaders performs an HTTP GET with additional headers merged
// with defaults. Request-specific headers override client defaults.
func (c *Client) GetJSONWithHeaders(ctx context.Context, rawURL string, headers map[string]string, v any) error {
	body, err := c.do(ctx, http.MethodGet, rawURL, headers, nil)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrCodeMalformedManifest, err, "decode response from %s", rawURL)
	}
	return nil
}

// GetText performs an HTTP GET and returns the response body as a string.
// Useful for non-JSON endpoints like go.mod files or plain text responses.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	return string(data), err
}

// GetBody performs an HTTP GET and returns the raw body reader. The
// caller owns the reader and must close it; limit is applied via
// io.LimitReader by the caller when payload size is untrusted.
func (c *Client) GetBody(ctx context.Context, rawURL string, headers map[string]string) (io.ReadCloser, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers, nil)
}

// PostJSON sends a JSON payload and decodes the JSON response into v.
// Used for GraphQL documents and JSON-RPC calls.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, payload, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	merged := map[string]string{"Content-Type": "application/json"}
	for k, val := range headers {
		merged[k] = val
	}
	body, err := c.do(ctx, http.MethodPost, rawURL, merged, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrCodeMalformedManifest, err, "decode response from %s", rawURL)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, payload io.Reader) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidTarget, err, "parse url %s", rawURL)
	}

	// Global outbound limit, shared across all workers.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx, u.Host); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.Fetch().OnRequest(ctx, method, u.Host, time.Since(start), err)
	if err != nil {
		cancel()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrCodeTimeout, err, "%s %s exceeded %s", method, u.Host, c.timeout)
		}
		return nil, errors.Wrap(errors.ErrCodeTransient, err, "%s %s", method, u.Host)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose ties the request's timeout context to the body's lifetime
// so streaming reads stay bounded by the per-call deadline.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return errors.New(errors.ErrCodeNotFound, "status %d", code)
	case code == http.StatusTooManyRequests:
		return &errors.RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    "status 429",
		}
	case code == http.StatusRequestTimeout || code >= 500:
		return errors.New(errors.ErrCodeTransient, "status %d", code)
	default:
		return errors.New(errors.ErrCodeInternal, "unexpected status %d", code)
	}
}

func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return secs
	}
	// HTTP-date form
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}

// UserAgent is the default User-Agent header applied by NewDefaultHeaders.
const UserAgent = "toolharbor/1.0 (+https://github.com/toolharbor/toolharbor)"

// NewDefaultHeaders returns the baseline headers for registry requests.
func NewDefaultHeaders() map[string]string {
	return map[string]string{"User-Agent": UserAgent}
}

// FormatBytes renders a byte count for log and error messages.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
