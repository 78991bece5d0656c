// Package thotem is a client for the Qualifelec THOTEM correspondent API,
// which returns the installer contact behind an IRVE charging point.
package thotem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultDetailURL = "https://irve.qualifelec.fr/api/get-correspondant-informations-thotem.php"
	defaultUserAgent = "thotem-cli/1.0"
	maxBodyBytes     = 1 << 20
)

// Client looks up the correspondent of a charging point.
type Client interface {
	// Correspondent posts {"corresp_id": id} and decodes the reply. Network
	// failures, non-2xx statuses and undecodable bodies are errors; a reply
	// reporting no data is not.
	Correspondent(ctx context.Context, id string) (*DetailResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithDetailURL overrides the default endpoint.
func WithDetailURL(url string) Option {
	return func(c *httpClient) {
		c.detailURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit caps requests per second across all callers.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	detailURL string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a THOTEM API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		detailURL: defaultDetailURL,
		userAgent: defaultUserAgent,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Correspondent(ctx context.Context, id string) (*DetailResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "thotem: rate limiter wait")
	}

	body, err := json.Marshal(DetailRequest{CorrespID: id})
	if err != nil {
		return nil, eris.Wrap(err, "thotem: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.detailURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "thotem: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "thotem: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "thotem: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	var result DetailResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "thotem: unmarshal response")
	}
	return &result, nil
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("thotem: unexpected status %d: %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
