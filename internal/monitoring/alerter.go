package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/config"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUnsettledRate  AlertType = "unsettled_rate"
	AlertIncompleteRuns AlertType = "incomplete_runs"
	AlertIngestStale    AlertType = "ingest_stale"
)

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns an alert, or nil.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert

// staleRule fires when no run started in the window. The other rules have
// nothing to measure then.
func staleRule(_ config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if snap.Runs > 0 {
		return nil
	}
	last := "never"
	if !snap.LastRunAt.IsZero() {
		last = snap.LastRunAt.Format(time.RFC3339)
	}
	return &Alert{
		Type:     AlertIngestStale,
		Severity: "high",
		Message:  fmt.Sprintf("No ingest run started in last %dh (last run: %s)", snap.LookbackHours, last),
		Details:  map[string]any{"last_run_id": snap.LastRunID, "contacts": snap.Contacts},
	}
}

func unsettledRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.UnsettledRateThreshold <= 0 || snap.UnsettledRate <= cfg.UnsettledRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertUnsettledRate,
		Severity: "medium",
		Message: fmt.Sprintf("%.1f%% of points left unsettled, threshold %.1f%% (%d of %d over %d runs in last %dh)",
			snap.UnsettledRate*100, cfg.UnsettledRateThreshold*100,
			snap.Unsettled, snap.Points, snap.Runs, snap.LookbackHours),
		Details: map[string]any{
			"unsettled_rate": snap.UnsettledRate,
			"threshold":      cfg.UnsettledRateThreshold,
			"unsettled":      snap.Unsettled,
			"points":         snap.Points,
		},
	}
}

func incompleteRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.MaxIncompleteRuns <= 0 || snap.IncompleteRuns < cfg.MaxIncompleteRuns {
		return nil
	}
	return &Alert{
		Type:     AlertIncompleteRuns,
		Severity: "high",
		Message:  fmt.Sprintf("%d of %d ingest runs ended incomplete in last %dh", snap.IncompleteRuns, snap.Runs, snap.LookbackHours),
		Details: map[string]any{
			"incomplete_runs": snap.IncompleteRuns,
			"runs":            snap.Runs,
			"last_run_id":     snap.LastRunID,
		},
	}
}

// Alerter turns snapshots into alerts and posts them to a webhook. An alert
// type already delivered within the lookback window is not sent again.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	backoff resilience.Backoff
	now     func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		backoff:  resilience.TransportBackoff,
		now:      func() time.Time { return time.Now().UTC() },
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate returns the alerts snap raises, stale first.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := a.now()
	if stale := staleRule(a.cfg, snap); stale != nil {
		stale.Timestamp = now
		return []Alert{*stale}
	}

	var alerts []Alert
	for _, r := range []rule{unsettledRule, incompleteRule} {
		if al := r(a.cfg, snap); al != nil {
			al.Timestamp = now
			alerts = append(alerts, *al)
		}
	}
	return alerts
}

func (a *Alerter) repeatAfter() time.Duration {
	if a.cfg.LookbackWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.cfg.LookbackWindowHours) * time.Hour
}

// SendAlerts posts each alert and returns how many were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	log := zap.L().With(zap.String("component", "monitoring.alerter"))

	sent := 0
	for _, alert := range alerts {
		if a.recentlySent(alert.Type) {
			log.Debug("alert suppressed", zap.String("type", string(alert.Type)))
			continue
		}
		retry := resilience.RetryConfig{MaxAttempts: 3, Backoff: a.backoff}
		if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		}); err != nil {
			log.Error("send alert failed", zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		a.markSent(alert.Type)
		log.Info("alert sent", zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) recentlySent(t AlertType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < a.repeatAfter()
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSent[t] = a.now()
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
