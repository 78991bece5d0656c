package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/config"
)

// Checker ties a Collector to an Alerter.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		lookback:  cfg.LookbackWindowHours,
	}
	if c.interval <= 0 {
		c.interval = 5 * time.Minute
	}
	if c.lookback <= 0 {
		c.lookback = 24
	}
	return c
}

// Run checks once immediately and then every interval until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker started", zap.Duration("interval", c.interval), zap.Int("lookback_hours", c.lookback))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			log.Info("alert checker stopped")
			return
		}
		if _, _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			log.Error("collect ingest metrics", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Check collects a snapshot, evaluates it and sends what it raises.
func (c *Checker) Check(ctx context.Context) (*MetricsSnapshot, []Alert, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, nil, err
	}
	alerts := c.alerter.Evaluate(snap)
	if len(alerts) > 0 {
		sent := c.alerter.SendAlerts(ctx, alerts)
		zap.L().Info("ingest health degraded",
			zap.String("component", "monitoring.checker"),
			zap.Int("alerts", len(alerts)),
			zap.Int("sent", sent),
			zap.Float64("unsettled_rate", snap.UnsettledRate),
		)
	}
	return snap, alerts, nil
}
