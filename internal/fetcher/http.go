package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/thotem-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries is the total number of attempts per download.
	MaxRetries int
	// RequestsPerSecond is the initial per-host rate. Default: 5.
	RequestsPerSecond float64
	// Backoff overrides resilience.TransportBackoff when set.
	Backoff resilience.Backoff
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.adjust(1.2)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	newRate := a.adjust(0.5)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

func (a *AdaptiveLimiter) adjust(factor float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * rate.Limit(factor)
	newRate = min(max(newRate, a.minRate), a.maxRate)
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	return newRate
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with retry and a per-host
// adaptive rate limit.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "thotem-cli/1.0"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// limiterFor returns the host's limiter, creating it on first use.
func (f *HTTPFetcher) limiterFor(u *url.URL) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		r := rate.Limit(f.opts.RequestsPerSecond)
		lim = NewAdaptiveLimiter(r, max(1, int(f.opts.RequestsPerSecond)))
		f.limiters[u.Host] = lim
	}
	return lim
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	limiter := f.limiterFor(req.URL)

	backoff := f.opts.Backoff
	if backoff == (resilience.Backoff{}) {
		backoff = resilience.TransportBackoff
	}
	cfg := resilience.RetryConfig{
		MaxAttempts: f.opts.MaxRetries,
		Backoff:     backoff,
		OnRetry: func(attempt int, err error) {
			zap.L().Warn("http request failed, retrying",
				zap.String("component", "fetcher"),
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				limiter.OnRateLimit()
			}
			te := resilience.NewTransientError(
				eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
			te.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
			return nil, te
		}

		limiter.OnSuccess()
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "all retries exhausted")
	}
	return resp, nil
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates are
// ignored.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Download fetches the URL and returns the response body. Any non-2xx
// status or transport failure is a resilience.KindTransport error.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.E(resilience.KindTransport, "download", eris.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, resilience.E(resilience.KindTransport, "download", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, resilience.E(resilience.KindTransport, "download",
			eris.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL))
	}

	return resp.Body, nil
}
