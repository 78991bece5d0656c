package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/config"
	"github.com/sells-group/thotem-cli/internal/discovery"
	"github.com/sells-group/thotem-cli/internal/fetcher"
	"github.com/sells-group/thotem-cli/internal/ingest"
	"github.com/sells-group/thotem-cli/internal/resilience"
	"github.com/sells-group/thotem-cli/internal/store"
	"github.com/sells-group/thotem-cli/pkg/thotem"
)

var (
	ingestOnce      bool
	ingestLimit     int
	ingestInterval  time.Duration
	ingestMaxPasses int
	ingestWorkers   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Discover points and store their installer contacts",
	Long: "Downloads the KML feed, fetches the correspondent of every point and upserts the contacts. " +
		"In until_complete mode failed points are retried every --interval until all are settled.",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyIngestFlags(cmd, cfg)
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		report, runErr := runIngest(ctx, cfg, backend)
		if report != nil {
			// Record even interrupted runs; ctx may already be cancelled.
			if err := backend.RecordRun(context.WithoutCancel(ctx), report.Summary(), report.FailureLog); err != nil {
				zap.L().Error("record run failed", zap.String("run_id", report.RunID), zap.Error(err))
			}
			printReport(cmd.OutOrStdout(), report)
		}
		return runErr
	},
}

// applyIngestFlags lets explicitly set flags override the config file.
func applyIngestFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("once") && ingestOnce {
		c.Ingest.Mode = string(ingest.ModeOnce)
	}
	if flags.Changed("limit") {
		c.Feed.Limit = ingestLimit
	}
	if flags.Changed("interval") {
		c.Ingest.PollInterval = ingestInterval
	}
	if flags.Changed("max-passes") {
		c.Ingest.MaxPasses = ingestMaxPasses
	}
	if flags.Changed("workers") {
		c.Ingest.Workers = ingestWorkers
	}
}

// buildIngester wires discovery, the correspondent client and the
// reconciling store from configuration.
func buildIngester(c *config.Config, table store.Table) (*ingest.Ingester, error) {
	mode, err := ingest.ParseMode(c.Ingest.Mode)
	if err != nil {
		return nil, err
	}

	feed := feedFetcher(c)
	client := thotem.NewClient(
		thotem.WithDetailURL(c.Feed.DetailURL),
		thotem.WithTimeout(c.Fetch.Timeout()),
		thotem.WithRateLimit(c.Fetch.RateLimitRPS),
		thotem.WithUserAgent(c.Fetch.UserAgent),
	)

	breakerCfg := resilience.CircuitConfigFrom(c.Fetch.BreakerThreshold, c.Fetch.BreakerResetSecs)
	breakerCfg.OnStateChange = func(from resilience.CircuitState, s resilience.CircuitStats) {
		zap.L().Warn("correspondent circuit changed",
			zap.String("component", "ingest"),
			zap.Stringer("from", from),
			zap.Stringer("to", s.State),
			zap.Int("consecutive_failures", s.Failures),
			zap.Int("rejected", s.Rejected),
		)
	}

	return ingest.New(
		discovery.New(feed, c.Feed.URL, c.Feed.Limit),
		ingest.NewPointFetcher(client, resilience.NewCircuitBreaker(breakerCfg)),
		store.NewReconciler(table, c.Ingest.ConflictRetries),
		ingest.Options{
			Mode:    mode,
			Workers: c.Ingest.Workers,
			Retry: ingest.RetryPolicy{
				MaxPasses: c.Ingest.MaxPasses,
				Backoff:   c.Ingest.PollInterval,
			},
		},
	), nil
}

func runIngest(ctx context.Context, c *config.Config, table store.Table) (*ingest.Report, error) {
	in, err := buildIngester(c, table)
	if err != nil {
		return nil, err
	}
	report, err := in.Run(ctx)
	if err != nil {
		zap.L().Error("ingest run ended with error", zap.String("run_id", report.RunID), zap.Error(err))
	}
	return report, err
}

func printReport(out io.Writer, r *ingest.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", r.Mode)
	_, _ = fmt.Fprintf(w, "Passes:\t%d\n", r.Passes)
	_, _ = fmt.Fprintf(w, "Settled:\t%d/%d\n", r.Settled, r.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%t\n", r.Complete)

	outcomes := make([]string, 0, len(r.Outcomes))
	counts := make(map[string]int, len(r.Outcomes))
	for o, n := range r.Outcomes {
		outcomes = append(outcomes, o.String())
		counts[o.String()] = n
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", o, counts[o])
	}

	kinds := make([]string, 0, len(r.Failures))
	failures := make(map[string]int, len(r.Failures))
	for k, n := range r.Failures {
		kinds = append(kinds, k.String())
		failures[k.String()] = n
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(w, "  failed (%s):\t%d\n", k, failures[k])
	}
	_ = w.Flush()
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestOnce, "once", false, "run a single pass")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0, "only process the first N points (0 = all)")
	ingestCmd.Flags().DurationVar(&ingestInterval, "interval", 0, "wait between passes (default from config)")
	ingestCmd.Flags().IntVar(&ingestMaxPasses, "max-passes", 0, "stop after N passes (0 = until complete)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 1, "concurrent detail requests")
	rootCmd.AddCommand(ingestCmd)
}

// feedFetcher downloads the feed over HTTP(S) or FTP depending on its URL.
func feedFetcher(c *config.Config) *fetcher.Router {
	return fetcher.NewRouter(
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:         c.Fetch.UserAgent,
			Timeout:           c.Fetch.Timeout(),
			MaxRetries:        c.Fetch.FeedRetries,
			RequestsPerSecond: c.Fetch.RateLimitRPS,
		}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: c.Fetch.Timeout()}),
	)
}
