package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "macrorun/1.0 (+github.com/sawpanic/macrorun)"
	maxResponseBytes = 4 << 20
)

// HTTPClient is the shared transport for REST adapters. It paces
// outbound requests per host with a token bucket so a burst of fetches
// cannot hammer an upstream even before the gateway's sliding-window
// limiter weighs in.
type HTTPClient struct {
	client    *http.Client
	userAgent string

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewHTTPClient builds a client with the given request timeout and
// per-host pacing. rps <= 0 disables pacing.
func NewHTTPClient(timeout time.Duration, rps float64, burst int) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		limiters:  make(map[string]*rate.Limiter),
		rps:       rps,
		burst:     burst,
	}
}

// limiterFor returns or creates the token bucket for a host.
func (c *HTTPClient) limiterFor(host string) *rate.Limiter {
	c.mu.RLock()
	limiter, exists := c.limiters[host]
	c.mu.RUnlock()
	if exists {
		return limiter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if limiter, exists := c.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(c.rps), c.burst)
	c.limiters[host] = limiter
	return limiter
}

// GetJSON fetches a URL and decodes the JSON body into out. Failures
// come back as *Error classified for the gateway's retry policy.
func (c *HTTPClient) GetJSON(ctx context.Context, providerID, rawURL string, out interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return WrapError(providerID, ErrCodeBadPayload, "invalid request url", false, err)
	}

	if c.rps > 0 {
		if err := c.limiterFor(u.Host).Wait(ctx); err != nil {
			return FromTransport(providerID, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return WrapError(providerID, ErrCodeNetwork, "building request failed", false, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return FromTransport(providerID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return FromTransport(providerID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return FromHTTPStatus(providerID, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return WrapError(providerID, ErrCodeBadPayload, "decoding response failed", false, err)
	}
	return nil
}
