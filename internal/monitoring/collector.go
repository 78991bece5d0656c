// Package monitoring watches the ingest run log and raises alerts when
// points stop settling or ingestion stops running.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thotem-cli/internal/store"
)

// maxRunsScanned bounds how far back the collector reads the run log.
const maxRunsScanned = 1000

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	Runs           int `json:"runs"`
	CompleteRuns   int `json:"complete_runs"`
	IncompleteRuns int `json:"incomplete_runs"`

	// Points summed over those runs.
	Points        int            `json:"points"`
	Unsettled     int            `json:"unsettled"`
	UnsettledRate float64        `json:"unsettled_rate"`
	Outcomes      map[string]int `json:"outcomes"`

	Contacts  int       `json:"contacts"`
	LastRunAt time.Time `json:"last_run_at"`
	LastRunID string    `json:"last_run_id,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the part of a store backend the collector reads.
type Source interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	Count(ctx context.Context) (int, error)
}

// Collector gathers metrics from the run log.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Outcomes:      make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.src.ListRuns(ctx, maxRunsScanned)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	// Runs are newest first.
	if len(runs) > 0 {
		snap.LastRunAt = runs[0].StartedAt
		snap.LastRunID = runs[0].RunID
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.Runs++
		if r.Complete {
			snap.CompleteRuns++
		} else {
			snap.IncompleteRuns++
		}
		snap.Points += r.Total
		snap.Unsettled += r.Total - r.Settled
		for k, n := range r.Outcomes {
			snap.Outcomes[k] += n
		}
	}
	if snap.Points > 0 {
		snap.UnsettledRate = float64(snap.Unsettled) / float64(snap.Points)
	}

	n, err := c.src.Count(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count contacts")
	}
	snap.Contacts = n

	return snap, nil
}
