// Package ingest runs the discover, fetch and save passes that bring the
// contact store in line with the charging-point feed.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/resilience"
	"github.com/sells-group/thotem-cli/internal/store"
)

// State is the orchestrator's position in a run.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateFetchingAll
	StateSaving
	StateWaiting
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateFetchingAll:
		return "fetching_all"
	case StateSaving:
		return "saving"
	case StateWaiting:
		return "waiting"
	case StateComplete:
		return "complete"
	default:
		return "idle"
	}
}

// Mode selects between a single pass and repeating passes until every
// point is settled.
type Mode string

const (
	ModeOnce          Mode = "once"
	ModeUntilComplete Mode = "until_complete"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOnce, ModeUntilComplete:
		return Mode(s), nil
	default:
		return "", eris.Errorf("ingest: unknown mode %q (want once or until_complete)", s)
	}
}

// RetryPolicy bounds the passes of an until_complete run. MaxPasses 0
// means no bound.
type RetryPolicy struct {
	MaxPasses int
	Backoff   time.Duration
}

// Options configures an Ingester.
type Options struct {
	Mode    Mode
	Retry   RetryPolicy
	Workers int
}

// Discoverer lists the points of the feed.
type Discoverer interface {
	Discover(ctx context.Context) ([]model.PointID, error)
}

// Fetcher resolves one point into a record.
type Fetcher interface {
	Fetch(ctx context.Context, id model.PointID) (*model.ContactRecord, error)
}

// Upserter writes a record under the one-record-per-phone rule.
type Upserter interface {
	Upsert(ctx context.Context, rec model.ContactRecord) (model.Outcome, error)
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Mode       Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Passes     int
	Total      int
	Settled    int
	Complete   bool
	Outcomes   map[model.Outcome]int
	Failures   map[resilience.Kind]int
	FailureLog []store.PointFailure
}

// Summary converts the report into the persisted run row.
func (r *Report) Summary() store.RunSummary {
	outcomes := make(map[string]int, len(r.Outcomes))
	for o, n := range r.Outcomes {
		outcomes[o.String()] = n
	}
	return store.RunSummary{
		RunID:      r.RunID,
		Mode:       string(r.Mode),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Passes:     r.Passes,
		Total:      r.Total,
		Settled:    r.Settled,
		Complete:   r.Complete,
		Outcomes:   outcomes,
	}
}

// Ingester drives discovery, fetching and saving.
type Ingester struct {
	discoverer Discoverer
	fetcher    Fetcher
	store      Upserter
	opts       Options

	mu    sync.Mutex
	state State

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an Ingester. Workers below 1 fetch sequentially and an empty
// mode means until_complete.
func New(d Discoverer, f Fetcher, u Upserter, opts Options) *Ingester {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Mode == "" {
		opts.Mode = ModeUntilComplete
	}
	return &Ingester{
		discoverer: d,
		fetcher:    f,
		store:      u,
		opts:       opts,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// State returns the current state.
func (in *Ingester) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Ingester) setState(s State, log *zap.Logger) {
	in.mu.Lock()
	from := in.state
	in.state = s
	in.mu.Unlock()
	if from == s {
		return
	}
	// Every saved point flips between these two; keep that out of info logs.
	if isPassState(from) && isPassState(s) {
		log.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", s))
		return
	}
	log.Info("state changed", zap.Stringer("from", from), zap.Stringer("to", s))
}

func isPassState(s State) bool {
	return s == StateFetchingAll || s == StateSaving
}

// pointResult is what fetching learned about one point. started is false
// when the pass was cancelled before the fetch began.
type pointResult struct {
	rec     *model.ContactRecord
	err     error
	started bool
}

// Run discovers the points once, then runs passes until every point is
// settled, the pass budget runs out, or the mode allows only one pass.
// The report is returned even when err is non-nil. A discovery failure or
// a fatal storage error ends the run with an error; a cancelled ctx ends it
// with ctx's error.
func (in *Ingester) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Mode:      in.opts.Mode,
		StartedAt: in.now().UTC(),
		Outcomes:  make(map[model.Outcome]int),
		Failures:  make(map[resilience.Kind]int),
	}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("run_id", report.RunID))
	defer func() { report.FinishedAt = in.now().UTC() }()

	in.setState(StateDiscovering, log)
	ids, err := in.discoverer.Discover(ctx)
	if err != nil {
		return report, eris.Wrap(err, "ingest: discovery")
	}
	report.Total = len(ids)
	settled := make([]bool, len(ids))

	for {
		report.Passes++
		if err := in.pass(ctx, log, report, ids, settled); err != nil {
			return report, err
		}

		log.Info("pass finished",
			zap.Int("pass", report.Passes),
			zap.Int("settled", report.Settled),
			zap.Int("total", report.Total),
		)

		if report.Settled == report.Total {
			report.Complete = true
			in.setState(StateComplete, log)
			return report, nil
		}
		if in.opts.Mode == ModeOnce {
			return report, nil
		}
		if in.opts.Retry.MaxPasses > 0 && report.Passes >= in.opts.Retry.MaxPasses {
			log.Warn("pass budget exhausted",
				zap.Int("max_passes", in.opts.Retry.MaxPasses),
				zap.Int("unsettled", report.Total-report.Settled),
			)
			return report, nil
		}

		in.setState(StateWaiting, log)
		if err := in.sleep(ctx, in.opts.Retry.Backoff); err != nil {
			return report, eris.Wrap(err, "ingest: waiting")
		}
	}
}

// pass fetches every unsettled point and saves each record as soon as it
// and every point before it in discovery order are fetched, so later points
// win phone conflicts deterministically. Records fetched before a
// cancellation are still saved.
func (in *Ingester) pass(ctx context.Context, log *zap.Logger, report *Report, ids []model.PointID, settled []bool) error {
	var pending []int
	for i := range ids {
		if !settled[i] {
			pending = append(pending, i)
		}
	}

	in.setState(StateFetchingAll, log)
	progress := NewProgress(len(pending))
	// Writes must outlive a cancelled run so fetched records are not lost.
	saveCtx := context.WithoutCancel(ctx)

	if in.opts.Workers == 1 {
		for _, i := range pending {
			if ctx.Err() != nil {
				break
			}
			res := in.fetch(ctx, log, progress, ids[i])
			if err := in.save(saveCtx, log, report, ids, settled, i, res); err != nil {
				return err
			}
		}
		return in.interrupted(ctx)
	}

	results := make([]pointResult, len(ids))
	done := make([]chan struct{}, len(ids))
	for _, i := range pending {
		done[i] = make(chan struct{})
	}

	fetchCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(in.opts.Workers)
	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		for _, i := range pending {
			g.Go(func() error {
				defer close(done[i])
				if gctx.Err() != nil {
					return nil
				}
				results[i] = in.fetch(gctx, log, progress, ids[i])
				return nil
			})
		}
		_ = g.Wait()
	}()

	for _, i := range pending {
		<-done[i]
		if err := in.save(saveCtx, log, report, ids, settled, i, results[i]); err != nil {
			stop()
			<-fetched
			return err
		}
	}
	<-fetched
	return in.interrupted(ctx)
}

func (in *Ingester) fetch(ctx context.Context, log *zap.Logger, progress *Progress, id model.PointID) pointResult {
	start := in.now()
	rec, err := in.fetcher.Fetch(ctx, id)

	n, eta := progress.Observe(in.now().Sub(start))
	log.Info("point fetched",
		zap.String("point_id", string(id)),
		zap.Int("completed", n),
		zap.Int("total", progress.Total()),
		zap.Duration("eta", eta),
	)
	return pointResult{rec: rec, err: err, started: true}
}

// save applies one fetch result to the store and the report. Only a fatal
// storage error is returned.
func (in *Ingester) save(ctx context.Context, log *zap.Logger, report *Report, ids []model.PointID, settled []bool, i int, res pointResult) error {
	id := ids[i]
	switch {
	case !res.started:
		return nil
	case res.err != nil:
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			// Cut off by the cancellation, not a verdict on the point.
			return nil
		}
		in.fail(log, report, id, res.err, settled, i)
		return nil
	}

	in.setState(StateSaving, log)
	outcome, err := in.store.Upsert(ctx, *res.rec)
	in.setState(StateFetchingAll, log)
	if err != nil {
		if resilience.Is(err, resilience.KindStorageFatal) {
			report.Failures[resilience.KindStorageFatal]++
			return eris.Wrapf(err, "ingest: save point %s", id)
		}
		in.fail(log, report, id, err, settled, i)
		return nil
	}
	report.Outcomes[outcome]++
	in.settle(report, settled, i)
	return nil
}

func (in *Ingester) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "ingest: pass interrupted")
	}
	return nil
}

// fail records a per-point failure. NoData is final and settles the point;
// every other kind leaves it for the next pass.
func (in *Ingester) fail(log *zap.Logger, report *Report, id model.PointID, err error, settled []bool, i int) {
	kind := resilience.KindOf(err)
	report.Failures[kind]++
	report.FailureLog = append(report.FailureLog, store.PointFailure{
		PointID: string(id),
		Kind:    kind.String(),
		Reason:  err.Error(),
		Pass:    report.Passes,
	})

	if kind == resilience.KindNoData {
		log.Info("point has no data", zap.String("point_id", string(id)), zap.String("reason", err.Error()))
		in.settle(report, settled, i)
		return
	}
	log.Warn("point failed", zap.String("point_id", string(id)), zap.String("kind", kind.String()), zap.Error(err))
}

func (in *Ingester) settle(report *Report, settled []bool, i int) {
	if !settled[i] {
		settled[i] = true
		report.Settled++
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
