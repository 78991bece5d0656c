package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/config"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		UnsettledRateThreshold: 0.10,
		MaxIncompleteRuns:      3,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	snap := &MetricsSnapshot{
		Runs:           4,
		CompleteRuns:   3,
		IncompleteRuns: 1,
		Points:         400,
		Unsettled:      8,
		UnsettledRate:  0.02,
		LookbackHours:  24,
	}
	assert.Empty(t, NewAlerter(thresholds()).Evaluate(snap))
}

func TestAlerter_Evaluate_UnsettledRate(t *testing.T) {
	snap := &MetricsSnapshot{
		Runs:          2,
		CompleteRuns:  2,
		Points:        100,
		Unsettled:     25,
		UnsettledRate: 0.25,
		LookbackHours: 24,
	}
	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnsettledRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "25.0%")
	assert.Equal(t, 25, alerts[0].Details["unsettled"])
}

func TestAlerter_Evaluate_IncompleteRuns(t *testing.T) {
	snap := &MetricsSnapshot{
		Runs:           3,
		IncompleteRuns: 3,
		Points:         300,
		LookbackHours:  24,
		LastRunID:      "r9",
	}
	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIncompleteRuns, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIngestStale, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "never")

	last := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	alerts = a.Evaluate(&MetricsSnapshot{LookbackHours: 24, LastRunAt: last, LastRunID: "old"})
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "2026-05-01T08:00:00Z")
}

func TestAlerter_Evaluate_ThresholdsDisabled(t *testing.T) {
	snap := &MetricsSnapshot{Runs: 5, IncompleteRuns: 5, Points: 10, Unsettled: 10, UnsettledRate: 1}
	assert.Empty(t, NewAlerter(config.MonitoringConfig{}).Evaluate(snap))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertIngestStale, Severity: "high", Message: "stale"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, AlertIngestStale, got.Type)
}

func fastAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg)
	a.backoff = resilience.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}
	return a
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	sent := fastAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertUnsettledRate}, {Type: AlertIncompleteRuns}})
	assert.Zero(t, sent)
	assert.Equal(t, int32(6), hits.Load(), "each alert is tried three times")
}

func TestAlerter_SendAlerts_RejectedNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	assert.Zero(t, fastAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertIngestStale}}))
	assert.Equal(t, int32(1), hits.Load())
}

func TestAlerter_SendAlerts_SuppressesRepeats(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	cfg.LookbackWindowHours = 1
	a := fastAlerter(cfg)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	stale := []Alert{{Type: AlertIngestStale}}
	assert.Equal(t, 1, a.SendAlerts(context.Background(), stale))
	assert.Zero(t, a.SendAlerts(context.Background(), stale))
	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertUnsettledRate}}))

	now = now.Add(time.Hour)
	assert.Equal(t, 1, a.SendAlerts(context.Background(), stale))
	assert.Equal(t, int32(3), hits.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	assert.Zero(t, NewAlerter(thresholds()).SendAlerts(context.Background(), []Alert{{Type: AlertIngestStale}}))
}
