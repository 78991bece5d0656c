package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/thotem-cli/internal/monitoring"
	"github.com/sells-group/thotem-cli/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		runs, err := backend.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the point failures of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		failures, err := backend.RunFailures(ctx, args[0])
		if err != nil {
			return err
		}
		printFailures(cmd.OutOrStdout(), failures)
		return nil
	},
}

var runsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate ingestion health once and send any alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		snap, alerts, err := newChecker(backend).Check(ctx)
		if err != nil {
			return err
		}
		printHealth(cmd.OutOrStdout(), snap, alerts)
		return nil
	},
}

func printHealth(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d incomplete)\n", snap.Runs, snap.IncompleteRuns)
	_, _ = fmt.Fprintf(w, "Unsettled:\t%d/%d (%.1f%%)\n", snap.Unsettled, snap.Points, snap.UnsettledRate*100)
	_, _ = fmt.Fprintf(w, "Contacts:\t%d\n", snap.Contacts)
	_ = w.Flush()
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func printRuns(out io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tSTARTED\tDURATION\tPASSES\tSETTLED\tCOMPLETE\tOUTCOMES")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t--------\t------\t-------\t--------\t--------")
	for _, r := range runs {
		dur := r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%t\t%s\n",
			r.RunID, r.Mode, r.StartedAt.Format("2006-01-02 15:04"), dur,
			r.Passes, r.Settled, r.Total, r.Complete, formatOutcomes(r.Outcomes))
	}
	_ = w.Flush()
}

func formatOutcomes(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

func printFailures(out io.Writer, failures []store.PointFailure) {
	if len(failures) == 0 {
		_, _ = fmt.Fprintln(out, "No failures.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PASS\tPOINT\tKIND\tREASON")
	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.Pass, f.PointID, f.Kind, f.Reason)
	}
	_ = w.Flush()
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	runsCmd.AddCommand(runsShowCmd, runsCheckCmd)
	rootCmd.AddCommand(runsCmd)
}
