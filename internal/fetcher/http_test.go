package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/thotem-cli/internal/resilience"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:         "test-agent",
		Timeout:           5 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 1000,
		Backoff: resilience.Backoff{
			Initial: time.Millisecond,
			Max:     5 * time.Millisecond,
		},
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<kml></kml>"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL+"/feed.kml")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "<kml></kml>", string(data))
}

func TestDownload_AcceptsAny2xx(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusNonAuthoritativeInfo, http.StatusPartialContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("<kml></kml>"))
		}))

		body, err := newTestFetcher().Download(context.Background(), srv.URL)
		require.NoError(t, err, code)
		data, err := io.ReadAll(body)
		_ = body.Close()
		srv.Close()
		require.NoError(t, err)
		assert.Equal(t, "<kml></kml>", string(data), code)
	}
}

func TestDownload_RedirectStatusRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
	assert.Contains(t, err.Error(), "unexpected status 304")
}

func TestDownload_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownload_429ReducesRate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = body.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	// Halved to 500, then raised 20% on success.
	assert.InDelta(t, 600, float64(f.limiterFor(u).Limit()), 0.01)
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher().Download(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
}

func TestDownload_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Download(context.Background(), "://bad")
	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "thotem-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.InDelta(t, 5.0, f.opts.RequestsPerSecond, 0.001)
}

func TestLimiterFor_PerHost(t *testing.T) {
	f := newTestFetcher()
	a, _ := url.Parse("https://irve.qualifelec.fr/assets/feed.kml")
	b, _ := url.Parse("https://irve.qualifelec.fr/api/detail.php")
	c, _ := url.Parse("https://example.org/")

	assert.Same(t, f.limiterFor(a), f.limiterFor(b))
	assert.NotSame(t, f.limiterFor(a), f.limiterFor(c))
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	al := NewAdaptiveLimiter(rate.Limit(10), 10)

	al.OnSuccess()
	assert.InDelta(t, 12.0, float64(al.Limit()), 0.01)

	for range 20 {
		al.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(al.Limit()), 0.01)

	for range 20 {
		al.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(al.Limit()), 0.01)
}

func TestAdaptiveLimiter_WaitCancelled(t *testing.T) {
	al := NewAdaptiveLimiter(rate.Limit(0.001), 1)
	require.NoError(t, al.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, al.Wait(ctx))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("-1"))
	assert.Zero(t, retryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}
