package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxBodySize caps how much of a response is read, feeds have no business
// being larger than this
const maxBodySize = 10 * 1024 * 1024

// Fetcher retrieves raw documents over HTTP with per-host politeness pacing
type Fetcher struct {
	client    *http.Client
	userAgent string
	rps       float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher with the given timeout, user agent and
// per-host request rate
func NewFetcher(timeout time.Duration, userAgent string, perHostRPS float64) *Fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if perHostRPS <= 0 {
		perHostRPS = 1
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		rps:       perHostRPS,
		limiters:  map[string]*rate.Limiter{},
	}
}

// Fetch performs one request and returns the raw body. Transport failures and
// non-2xx responses come back as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, method, rawURL string, headers map[string]string) ([]byte, error) {
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	addBrowserHeaders(req)
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // nothing to do on close failure

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.rps), 1)
		f.limiters[host] = lim
	}
	return lim
}
