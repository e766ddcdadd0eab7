package monitor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/monitor"
	"github.com/couchcryptid/quake-alert/internal/observability"
	"github.com/couchcryptid/quake-alert/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockFeed struct {
	mu      sync.Mutex
	batches [][]domain.Event
	errs    []error
	queries []domain.FeedQuery
}

// Query returns the next scripted batch or error; the last one repeats.
func (m *mockFeed) Query(_ context.Context, q domain.FeedQuery) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.queries)
	m.queries = append(m.queries, q)

	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	if i >= len(m.batches) {
		i = len(m.batches) - 1
	}
	return m.batches[i], nil
}

func (m *mockFeed) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

type mockNotifier struct {
	mu       sync.Mutex
	sent     []string
	failOn   map[string]error
	panicOn  string
	afterOK  func()
	distance map[string]float64
}

func (m *mockNotifier) Notify(_ context.Context, ev domain.Event, d float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == m.panicOn {
		panic("renderer exploded")
	}
	if err := m.failOn[ev.ID]; err != nil {
		return err
	}
	m.sent = append(m.sent, ev.ID)
	if m.distance == nil {
		m.distance = make(map[string]float64)
	}
	m.distance[ev.ID] = d
	if m.afterOK != nil {
		m.afterOK()
	}
	return nil
}

func (m *mockNotifier) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

var (
	bangkok = domain.ReferenceLocation{Name: "Bangkok", Geo: domain.Geo{Lat: 13.7563, Lon: 100.5018}, RadiusKm: 2500}

	near = domain.Event{ID: "evt1", Magnitude: 5.2, Geo: domain.Geo{Lat: 13.0, Lon: 100.0}}
	far  = domain.Event{ID: "evt2", Magnitude: 6.0, Geo: domain.Geo{Lat: -33.0, Lon: 151.0}}
)

func inRange(id string) domain.Event {
	return domain.Event{ID: id, Magnitude: 4.5, Geo: domain.Geo{Lat: 18.8, Lon: 98.9}}
}

func testConfig() monitor.Config {
	return monitor.Config{
		Reference:    bangkok,
		MinMagnitude: 4,
		BatchLimit:   10,
		OrderBy:      domain.OrderNewestFirst,
		PollInterval: 5 * time.Second,
		MaxBackoff:   time.Minute,
	}
}

type fixture struct {
	mon      *monitor.Monitor
	feed     *mockFeed
	notifier *mockNotifier
	log      *store.MemoryLog
	set      *store.NotifiedSet
	clock    *clockwork.FakeClock
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, feed *mockFeed, log *store.MemoryLog) *fixture {
	t.Helper()
	if log == nil {
		log = store.NewMemoryLog()
	}
	set, err := store.Open(context.Background(), log)
	require.NoError(t, err)

	f := &fixture{
		feed:     feed,
		notifier: &mockNotifier{},
		log:      log,
		set:      set,
		clock:    clockwork.NewFakeClockAt(time.Date(2025, time.March, 28, 6, 20, 0, 0, time.UTC)),
		metrics:  observability.NewMetricsForTesting(),
	}
	f.mon = monitor.New(testConfig(), f.feed, f.notifier, f.set, f.clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)
	return f
}

// --- RunCycle ---

func TestRunCycle_NotifiesAndPersistsInRangeEvent(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, nil)

	res := f.mon.RunCycle(context.Background())

	want := monitor.CycleResult{Outcome: monitor.OutcomeOK, Received: 1, Notified: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("cycle result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"evt1"}, f.notifier.ids())
	assert.Equal(t, []string{"evt1"}, f.log.IDs())
	assert.InDelta(t, 100.09, f.notifier.distance["evt1"], 0.01)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreCommits))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotifiedSize))
}

func TestRunCycle_PassesQuery(t *testing.T) {
	f := newFixture(t, &mockFeed{}, nil)
	f.mon.RunCycle(context.Background())

	require.Len(t, f.feed.queries, 1)
	assert.Equal(t, domain.FeedQuery{MinMagnitude: 4, Limit: 10, OrderBy: domain.OrderNewestFirst}, f.feed.queries[0])
}

func TestRunCycle_OutOfRangeIsNotMarked(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{far}}}, nil)

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, monitor.OutcomeOK, res.Outcome)
	assert.Equal(t, 1, res.OutOfRange)
	assert.Empty(t, f.notifier.ids())
	assert.False(t, f.set.Contains("evt2"), "out-of-range events must not be marked")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsEvaluated.WithLabelValues("out_of_range")))
}

func TestRunCycle_DuplicateWithinBatchNotifiedOnce(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near, far, near}}}, nil)

	res := f.mon.RunCycle(context.Background())

	want := monitor.CycleResult{Outcome: monitor.OutcomeOK, Received: 3, Duplicates: 1, OutOfRange: 1, Notified: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("cycle result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"evt1"}, f.notifier.ids())
}

func TestRunCycle_SkipsEventWithoutID(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{{Geo: near.Geo}, near}}}, nil)

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, []string{"evt1"}, f.notifier.ids())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsEvaluated.WithLabelValues("invalid")))
}

func TestRunCycle_AlreadyNotifiedIsSkipped(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, store.NewMemoryLog("evt1"))

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, f.notifier.ids())
}

func TestRunCycle_FeedErrorIsTransient(t *testing.T) {
	feedErr := &domain.FeedError{Kind: domain.FeedTransport, Err: errors.New("dial tcp: connection refused")}
	f := newFixture(t, &mockFeed{errs: []error{feedErr}}, nil)

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, monitor.OutcomeTransient, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrFeedTransport)
	assert.Zero(t, res.Received)
	assert.Error(t, f.mon.CheckReadiness(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("transient")))
}

func TestRunCycle_NotifyFailureDefersRestOfBatch(t *testing.T) {
	batch := []domain.Event{inRange("a"), inRange("b")}
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{batch}}, nil)
	notifyErr := &domain.NotifyError{Stage: domain.StageText, EventID: "a", Err: errors.New("status 502")}
	f.notifier.failOn = map[string]error{"a": notifyErr}

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, monitor.OutcomeTransient, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrNotify)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Notified)
	assert.Empty(t, f.notifier.ids(), "b must wait until a is delivered")
	assert.False(t, f.set.Contains("a"))

	// Delivery recovers on the next cycle, in feed order.
	f.notifier.failOn = nil
	res = f.mon.RunCycle(context.Background())
	assert.Equal(t, monitor.OutcomeOK, res.Outcome)
	assert.Equal(t, []string{"a", "b"}, f.notifier.ids())
	assert.Equal(t, []string{"a", "b"}, f.log.IDs())
}

func TestRunCycle_PersistFailureIsFatal(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near, inRange("b")}}}, nil)
	f.log.FailAppends(errors.New("disk full"))

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, monitor.OutcomeFatal, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrPersist)
	assert.Equal(t, []string{"evt1"}, f.notifier.ids(), "processing stops at the failed commit")
	assert.False(t, f.set.Contains("evt1"))
}

// contextLog fails appends on a done context, like the sqlite and kafka logs.
type contextLog struct {
	*store.MemoryLog
}

func (l contextLog) Append(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.MemoryLog.Append(ctx, id)
}

func TestRunCycle_CommitSurvivesShutdownAfterSend(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, nil)
	log := contextLog{MemoryLog: store.NewMemoryLog()}
	set, err := store.Open(context.Background(), log)
	require.NoError(t, err)
	mon := monitor.New(testConfig(), f.feed, f.notifier, set, f.clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.notifier.afterOK = cancel

	res := mon.RunCycle(ctx)

	require.NoError(t, res.Err)
	assert.Equal(t, monitor.OutcomeOK, res.Outcome)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, []string{"evt1"}, log.IDs())
	assert.True(t, set.Contains("evt1"))
}

func TestRunCycle_PanicIsRecoveredAsTransient(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, nil)
	f.notifier.panicOn = "evt1"

	res := f.mon.RunCycle(context.Background())

	assert.Equal(t, monitor.OutcomeTransient, res.Outcome)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "renderer exploded")
	assert.False(t, f.set.Contains("evt1"))
}

func TestRunCycle_RestartDoesNotRenotify(t *testing.T) {
	log := store.NewMemoryLog()
	first := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, log)
	first.mon.RunCycle(context.Background())
	require.Equal(t, []string{"evt1"}, first.notifier.ids())

	second := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, log)
	res := second.mon.RunCycle(context.Background())

	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, second.notifier.ids())
}

func TestCheckReadiness(t *testing.T) {
	f := newFixture(t, &mockFeed{}, nil)
	require.Error(t, f.mon.CheckReadiness(context.Background()))

	f.mon.RunCycle(context.Background())
	require.NoError(t, f.mon.CheckReadiness(context.Background()))
	assert.Equal(t, float64(f.clock.Now().Unix()), testutil.ToFloat64(f.metrics.LastSuccessPoll))
}

// --- Run ---

func TestRun_PollsEveryInterval(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.mon.Run(ctx) }()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, f.feed.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MonitorRunning))

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 2, f.feed.calls())
	assert.Equal(t, []string{"evt1"}, f.notifier.ids(), "evt1 must be notified once across cycles")

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, testutil.ToFloat64(f.metrics.MonitorRunning))
}

func TestRun_RetriesAfterTransientFailure(t *testing.T) {
	feedErr := &domain.FeedError{Kind: domain.FeedTransport, Err: errors.New("timeout")}
	f := newFixture(t, &mockFeed{errs: []error{feedErr}, batches: [][]domain.Event{{near}}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.mon.Run(ctx) }()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, f.notifier.ids())

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []string{"evt1"}, f.notifier.ids())

	cancel()
	require.NoError(t, <-done)
}

func TestRun_ReturnsFatalError(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, nil)
	f.log.FailAppends(errors.New("read-only file system"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.mon.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersist)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("fatal")))
}

func TestRun_ContextCancellation(t *testing.T) {
	f := newFixture(t, &mockFeed{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.mon.Run(ctx))
	assert.Zero(t, f.feed.calls())
}

func TestStatus(t *testing.T) {
	f := newFixture(t, &mockFeed{batches: [][]domain.Event{{near}}}, nil)

	st := f.mon.Status()
	assert.False(t, st.Ready)
	assert.Empty(t, st.LastOutcome)
	assert.True(t, st.LastPoll.IsZero())

	f.mon.RunCycle(context.Background())

	st = f.mon.Status()
	want := monitor.Status{
		Ready:       true,
		Reference:   "Bangkok",
		RadiusKm:    2500,
		Cycles:      1,
		LastOutcome: "ok",
		LastPoll:    f.clock.Now().UTC(),
		Notified:    1,
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}
