package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/config"
	"github.com/sells-group/thotem-cli/internal/monitoring"
	"github.com/sells-group/thotem-cli/internal/store"
)

func TestPrintRuns_Empty(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	assert.Equal(t, "No runs recorded.\n", buf.String())
}

func TestPrintRuns_FromStore(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, b.RecordRun(ctx, store.RunSummary{
		RunID:      "run-1",
		Mode:       "until_complete",
		StartedAt:  start,
		FinishedAt: start.Add(95 * time.Second),
		Passes:     2,
		Total:      10,
		Settled:    10,
		Complete:   true,
		Outcomes:   map[string]int{"skipped": 1, "inserted": 9},
	}, nil))

	runs, err := b.ListRuns(ctx, runsLimit)
	require.NoError(t, err)

	var buf bytes.Buffer
	printRuns(&buf, runs)
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2026-03-02 09:30")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "10/10")
	assert.Contains(t, out, "inserted=9 skipped=1")
}

func TestFormatOutcomes(t *testing.T) {
	assert.Equal(t, "", formatOutcomes(nil))
	assert.Equal(t, "a=1 b=2", formatOutcomes(map[string]int{"b": 2, "a": 1}))
}

func TestPrintFailures(t *testing.T) {
	var buf bytes.Buffer
	printFailures(&buf, nil)
	assert.Equal(t, "No failures.\n", buf.String())

	buf.Reset()
	printFailures(&buf, []store.PointFailure{
		{PointID: "404", Kind: "no_data", Reason: "correspondent not found", Pass: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "404")
	assert.Contains(t, out, "no_data")
	assert.Contains(t, out, "correspondent not found")
}

func TestPrintHealth(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{Runs: 2, IncompleteRuns: 1, Points: 20, Unsettled: 5, UnsettledRate: 0.25, Contacts: 14, LookbackHours: 24}

	var buf bytes.Buffer
	printHealth(&buf, snap, nil)
	assert.Contains(t, buf.String(), "5/20 (25.0%)")
	assert.Contains(t, buf.String(), "No alerts.")

	buf.Reset()
	printHealth(&buf, snap, []monitoring.Alert{{Type: monitoring.AlertUnsettledRate, Severity: "medium", Message: "too many"}})
	assert.Contains(t, buf.String(), "[medium] unsettled_rate: too many")
}

func TestNewChecker_UsesRunLog(t *testing.T) {
	prev := cfg
	cfg = &config.Config{Monitoring: config.MonitoringConfig{LookbackWindowHours: 24, MaxIncompleteRuns: 1}}
	t.Cleanup(func() { cfg = prev })

	ctx := context.Background()
	b := newTestBackend(t)
	start := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, b.RecordRun(ctx, store.RunSummary{
		RunID: "run-x", Mode: "once", StartedAt: start, FinishedAt: start.Add(time.Minute),
		Total: 4, Settled: 2, Outcomes: map[string]int{"inserted": 2},
	}, nil))

	snap, alerts, err := newChecker(b).Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.IncompleteRuns)
	require.Len(t, alerts, 1)
	assert.Equal(t, monitoring.AlertIncompleteRuns, alerts[0].Type)
}
