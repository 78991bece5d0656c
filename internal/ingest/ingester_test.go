package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

type fakeDiscoverer struct {
	ids []model.PointID
	err error
}

func (f fakeDiscoverer) Discover(context.Context) ([]model.PointID, error) {
	return f.ids, f.err
}

// scriptedFetcher returns errs[id] in order, then a record named after id.
type scriptedFetcher struct {
	mu    sync.Mutex
	errs  map[model.PointID][]error
	calls map[model.PointID]int
}

func newScriptedFetcher(errs map[model.PointID][]error) *scriptedFetcher {
	if errs == nil {
		errs = map[model.PointID][]error{}
	}
	return &scriptedFetcher{errs: errs, calls: map[model.PointID]int{}}
}

func (f *scriptedFetcher) Fetch(_ context.Context, id model.PointID) (*model.ContactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[id]
	f.calls[id]++
	if script := f.errs[id]; n < len(script) {
		return nil, script[n]
	}
	return &model.ContactRecord{Name: "installer " + string(id), Phone: "336000000" + string(id)}, nil
}

func (f *scriptedFetcher) count(id model.PointID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type recordingUpserter struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (u *recordingUpserter) Upsert(_ context.Context, rec model.ContactRecord) (model.Outcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return 0, u.err
	}
	u.names = append(u.names, rec.Name)
	return model.Inserted, nil
}

func transportErr() error {
	return resilience.E(resilience.KindTransport, "fetch", errors.New("timeout"))
}

func noDataErr() error {
	return resilience.E(resilience.KindNoData, "fetch", errors.New("status false"))
}

func newTestIngester(d Discoverer, f Fetcher, u Upserter, opts Options) (*Ingester, *int) {
	in := New(d, f, u, opts)
	sleeps := new(int)
	in.sleep = func(ctx context.Context, _ time.Duration) error {
		*sleeps++
		return ctx.Err()
	}
	return in, sleeps
}

func ids(s ...string) []model.PointID {
	out := make([]model.PointID, len(s))
	for i, v := range s {
		out[i] = model.PointID(v)
	}
	return out
}

func TestRun_SinglePassComplete(t *testing.T) {
	u := &recordingUpserter{}
	in, sleeps := newTestIngester(fakeDiscoverer{ids: ids("10", "11", "12")}, newScriptedFetcher(nil), u, Options{Mode: ModeUntilComplete})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Settled)
	assert.Equal(t, 3, report.Outcomes[model.Inserted])
	assert.Zero(t, *sleeps)
	assert.Equal(t, StateComplete, in.State())
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRun_RetriesTransportFailures(t *testing.T) {
	f := newScriptedFetcher(map[model.PointID][]error{"11": {transportErr(), transportErr()}})
	in, sleeps := newTestIngester(fakeDiscoverer{ids: ids("10", "11", "12")}, f, &recordingUpserter{},
		Options{Mode: ModeUntilComplete, Retry: RetryPolicy{Backoff: time.Second}})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 3, report.Passes)
	assert.Equal(t, 2, *sleeps)
	assert.Equal(t, 2, report.Failures[resilience.KindTransport])
	assert.Equal(t, 1, f.count("10"), "settled points are not fetched again")
	assert.Equal(t, 3, f.count("11"))

	require.Len(t, report.FailureLog, 2)
	assert.Equal(t, "11", report.FailureLog[0].PointID)
	assert.Equal(t, "transport", report.FailureLog[0].Kind)
	assert.Equal(t, 1, report.FailureLog[0].Pass)
	assert.Equal(t, 2, report.FailureLog[1].Pass)
}

func TestRun_NoDataIsTerminal(t *testing.T) {
	f := newScriptedFetcher(map[model.PointID][]error{"11": {noDataErr(), noDataErr()}})
	u := &recordingUpserter{}
	in, _ := newTestIngester(fakeDiscoverer{ids: ids("10", "11")}, f, u, Options{})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, 1, report.Failures[resilience.KindNoData])
	assert.Equal(t, []string{"installer 10"}, u.names)
}

func TestRun_OnceReturnsPartialResults(t *testing.T) {
	f := newScriptedFetcher(map[model.PointID][]error{"11": {transportErr()}})
	u := &recordingUpserter{}
	in, sleeps := newTestIngester(fakeDiscoverer{ids: ids("10", "11", "12")}, f, u, Options{Mode: ModeOnce})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Complete)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, 2, report.Settled)
	assert.Zero(t, *sleeps)
	assert.Equal(t, []string{"installer 10", "installer 12"}, u.names)
}

func TestRun_MaxPassesExhausted(t *testing.T) {
	f := newScriptedFetcher(map[model.PointID][]error{
		"11": {transportErr(), transportErr(), transportErr(), transportErr()},
	})
	in, sleeps := newTestIngester(fakeDiscoverer{ids: ids("10", "11")}, f, &recordingUpserter{},
		Options{Retry: RetryPolicy{MaxPasses: 3}})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Complete)
	assert.Equal(t, 3, report.Passes)
	assert.Equal(t, 2, *sleeps)
	assert.Equal(t, 1, report.Settled)
}

func TestRun_DiscoveryFailureIsFatal(t *testing.T) {
	d := fakeDiscoverer{err: resilience.E(resilience.KindTransport, "discover", errors.New("502"))}
	f := newScriptedFetcher(nil)
	in, _ := newTestIngester(d, f, &recordingUpserter{}, Options{})

	report, err := in.Run(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsTransport(err))
	require.NotNil(t, report)
	assert.Zero(t, report.Passes)
}

func TestRun_EmptyFeedIsComplete(t *testing.T) {
	in, _ := newTestIngester(fakeDiscoverer{}, newScriptedFetcher(nil), &recordingUpserter{}, Options{})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 1, report.Passes)
}

func TestRun_StorageFatalAborts(t *testing.T) {
	u := &recordingUpserter{err: resilience.E(resilience.KindStorageFatal, "put", errors.New("disk full"))}
	in, _ := newTestIngester(fakeDiscoverer{ids: ids("10", "11")}, newScriptedFetcher(nil), u, Options{})

	report, err := in.Run(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.Is(err, resilience.KindStorageFatal))
	assert.Contains(t, err.Error(), "save point 10")
	assert.Equal(t, 1, report.Failures[resilience.KindStorageFatal])
	assert.False(t, report.Complete)
}

func TestRun_LeftoverConflictRetriedNextPass(t *testing.T) {
	calls := 0
	u := upsertFunc(func(rec model.ContactRecord) (model.Outcome, error) {
		calls++
		if calls == 1 {
			return 0, resilience.E(resilience.KindStorageConflict, "reconcile", errors.New("contended"))
		}
		return model.Superseded, nil
	})
	in, _ := newTestIngester(fakeDiscoverer{ids: ids("10")}, newScriptedFetcher(nil), u, Options{})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 2, report.Passes)
	assert.Equal(t, 1, report.Failures[resilience.KindStorageConflict])
	assert.Equal(t, 1, report.Outcomes[model.Superseded])
}

type upsertFunc func(rec model.ContactRecord) (model.Outcome, error)

func (f upsertFunc) Upsert(_ context.Context, rec model.ContactRecord) (model.Outcome, error) {
	return f(rec)
}

func TestRun_WorkersSaveInDiscoveryOrder(t *testing.T) {
	u := &recordingUpserter{}
	points := ids("5", "4", "3", "2", "1", "0")
	in, _ := newTestIngester(fakeDiscoverer{ids: points}, newScriptedFetcher(nil), u, Options{Workers: 4})

	report, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete)
	var want []string
	for _, id := range points {
		want = append(want, "installer "+string(id))
	}
	assert.Equal(t, want, u.names)
}

func TestRun_CancelWhileWaiting(t *testing.T) {
	f := newScriptedFetcher(map[model.PointID][]error{"10": {transportErr()}})
	in := New(fakeDiscoverer{ids: ids("10")}, f, &recordingUpserter{},
		Options{Retry: RetryPolicy{Backoff: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for in.State() != StateWaiting {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	done := make(chan struct{})
	var report *Report
	var err error
	go func() {
		report, err = in.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Passes)
	assert.False(t, report.Complete)
}

// blockingFetcher answers the points in ready at once and holds every other
// point until ctx ends.
type blockingFetcher struct {
	ready map[model.PointID]bool
	mu    sync.Mutex
	calls []model.PointID
}

func (f *blockingFetcher) Fetch(ctx context.Context, id model.PointID) (*model.ContactRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if !f.ready[id] {
		<-ctx.Done()
		return nil, resilience.E(resilience.KindTransport, "fetch", ctx.Err())
	}
	return &model.ContactRecord{Name: "installer " + string(id), Phone: "336000000" + string(id)}, nil
}

func TestRun_CancelMidPassKeepsFetchedRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	f := fetchFunc(func(ctx context.Context, id model.PointID) (*model.ContactRecord, error) {
		calls++
		if calls == 3 {
			cancel()
			return nil, resilience.E(resilience.KindTransport, "fetch", ctx.Err())
		}
		return &model.ContactRecord{Name: "installer " + string(id), Phone: "336000000" + string(id)}, nil
	})
	u := &recordingUpserter{}
	in, _ := newTestIngester(fakeDiscoverer{ids: ids("1", "2", "3", "4")}, f, u, Options{})

	report, err := in.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"installer 1", "installer 2"}, u.names)
	assert.Equal(t, 2, report.Settled)
	assert.Equal(t, 3, calls)
	assert.Empty(t, report.FailureLog)
}

func TestRun_CancelMidPassWithWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &blockingFetcher{ready: map[model.PointID]bool{"1": true, "2": true}}
	var mu sync.Mutex
	var saved []string
	u := upsertFunc(func(rec model.ContactRecord) (model.Outcome, error) {
		mu.Lock()
		defer mu.Unlock()
		saved = append(saved, rec.Name)
		if len(saved) == 2 {
			cancel()
		}
		return model.Inserted, nil
	})
	in, _ := newTestIngester(fakeDiscoverer{ids: ids("1", "2", "3", "4", "5")}, f, u, Options{Workers: 3})

	done := make(chan struct{})
	var report *Report
	var err error
	go func() {
		report, err = in.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"installer 1", "installer 2"}, saved)
	assert.Equal(t, 2, report.Settled)
	assert.Empty(t, report.FailureLog)
}

func TestRun_WorkersStorageFatalStopsFetching(t *testing.T) {
	f := &blockingFetcher{ready: map[model.PointID]bool{"1": true}}
	u := &recordingUpserter{err: resilience.E(resilience.KindStorageFatal, "put", errors.New("disk full"))}
	in, _ := newTestIngester(fakeDiscoverer{ids: ids("1", "2", "3")}, f, u, Options{Workers: 2})

	done := make(chan struct{})
	var err error
	go func() {
		_, err = in.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fatal storage error did not stop the pass")
	}
	require.Error(t, err)
	assert.True(t, resilience.Is(err, resilience.KindStorageFatal))
	assert.Contains(t, err.Error(), "save point 1")
}

type fetchFunc func(ctx context.Context, id model.PointID) (*model.ContactRecord, error)

func (f fetchFunc) Fetch(ctx context.Context, id model.PointID) (*model.ContactRecord, error) {
	return f(ctx, id)
}

func TestReport_Summary(t *testing.T) {
	r := &Report{
		RunID:    "r1",
		Mode:     ModeOnce,
		Passes:   1,
		Total:    2,
		Settled:  2,
		Complete: true,
		Outcomes: map[model.Outcome]int{model.Inserted: 1, model.ConflictResolved: 1},
	}
	s := r.Summary()
	assert.Equal(t, "once", s.Mode)
	assert.Equal(t, map[string]int{"inserted": 1, "conflict_resolved": 1}, s.Outcomes)
	assert.True(t, s.Complete)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("until_complete")
	require.NoError(t, err)
	assert.Equal(t, ModeUntilComplete, m)

	_, err = ParseMode("forever")
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fetching_all", StateFetchingAll.String())
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "idle", StateIdle.String())
}
