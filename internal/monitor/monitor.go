// Package monitor runs the poll, evaluate, notify and commit loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Feed returns recent events in feed order.
type Feed interface {
	Query(ctx context.Context, q domain.FeedQuery) ([]domain.Event, error)
}

// Notifier delivers one alert. A nil error means the recipient has it.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event, distanceKm float64) error
}

// EventStore is the durable set of notified event ids.
type EventStore interface {
	Contains(id string) bool
	Commit(ctx context.Context, id string) error
	Len() int
}

// Config is fixed for the life of a Monitor.
type Config struct {
	Reference    domain.ReferenceLocation
	MinMagnitude float64
	BatchLimit   int
	OrderBy      string
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

// Outcome classifies a cycle for the loop's scheduling decision.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTransient
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// commitTimeout bounds a commit that no longer follows the loop context.
const commitTimeout = 10 * time.Second

// CycleResult summarises one pass over a feed batch.
type CycleResult struct {
	Outcome    Outcome
	Err        error
	Received   int
	Duplicates int
	OutOfRange int
	Notified   int
	Failed     int
}

// Monitor polls the feed and notifies each relevant event exactly once.
type Monitor struct {
	cfg      Config
	feed     Feed
	notifier Notifier
	store    EventStore
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	ready       atomic.Bool
	lastPoll    atomic.Int64 // unix nanos of the last successful poll
	lastOutcome atomic.Int32
	cycles      atomic.Int64
}

// Status is a point-in-time snapshot served on the status endpoint.
type Status struct {
	Ready       bool      `json:"ready"`
	Reference   string    `json:"reference"`
	RadiusKm    float64   `json:"radius_km"`
	Cycles      int64     `json:"cycles"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastPoll    time.Time `json:"last_poll,omitzero"`
	Notified    int       `json:"notified"`
}

// New creates a Monitor.
func New(cfg Config, feed Feed, notifier Notifier, store EventStore, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	return &Monitor{
		cfg:      cfg,
		feed:     feed,
		notifier: notifier,
		store:    store,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once the feed has been polled successfully.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("monitor has not polled the feed successfully yet")
	}
	return nil
}

// Status reports the monitor's current state.
func (m *Monitor) Status() Status {
	st := Status{
		Ready:     m.ready.Load(),
		Reference: m.cfg.Reference.Name,
		RadiusKm:  m.cfg.Reference.RadiusKm,
		Cycles:    m.cycles.Load(),
		Notified:  m.store.Len(),
	}
	if st.Cycles > 0 {
		st.LastOutcome = Outcome(m.lastOutcome.Load()).String()
	}
	if ns := m.lastPoll.Load(); ns != 0 {
		st.LastPoll = time.Unix(0, ns).UTC()
	}
	return st
}

// Run polls until the context is cancelled or a cycle fails fatally. It
// returns nil on cancellation and the cycle error otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		"reference", m.cfg.Reference.Name,
		"radius_km", m.cfg.Reference.RadiusKm,
		"poll_interval", m.cfg.PollInterval,
		"batch_limit", m.cfg.BatchLimit,
	)
	m.metrics.MonitorRunning.Set(1)
	defer m.metrics.MonitorRunning.Set(0)

	backoff := m.cfg.PollInterval
	for {
		if ctx.Err() != nil {
			m.logger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		}

		res := m.RunCycle(ctx)
		if res.Outcome == OutcomeFatal {
			m.logger.Error("monitor stopping on fatal error", "error", res.Err)
			return res.Err
		}
		if ctx.Err() != nil {
			continue
		}

		wait := m.nextWait(res, &backoff)
		if res.Outcome == OutcomeTransient {
			m.logger.Warn("cycle failed, backing off", "error", res.Err, "wait", wait)
		}
		sleepWithContext(ctx, m.clock, wait)
	}
}

// RunCycle performs one poll and processes the batch in feed order.
func (m *Monitor) RunCycle(ctx context.Context) (res CycleResult) {
	start := m.clock.Now()
	logger := m.logger.With("cycle_id", uuid.NewString())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle panicked", "panic", r)
			res.Outcome = OutcomeTransient
			res.Err = fmt.Errorf("cycle panic: %v", r)
		}
		m.cycles.Add(1)
		m.lastOutcome.Store(int32(res.Outcome))
		m.metrics.Cycles.WithLabelValues(res.Outcome.String()).Inc()
		m.metrics.CycleDuration.Observe(m.clock.Since(start).Seconds())
		m.metrics.NotifiedSize.Set(float64(m.store.Len()))
	}()

	events, err := m.feed.Query(ctx, domain.FeedQuery{
		MinMagnitude: m.cfg.MinMagnitude,
		Limit:        m.cfg.BatchLimit,
		OrderBy:      m.cfg.OrderBy,
	})
	if err != nil {
		return CycleResult{Outcome: OutcomeTransient, Err: fmt.Errorf("poll feed: %w", err)}
	}
	polledAt := m.clock.Now()
	m.ready.Store(true)
	m.lastPoll.Store(polledAt.UnixNano())
	m.metrics.LastSuccessPoll.Set(float64(polledAt.Unix()))

	res.Received = len(events)
	logger.Debug("feed polled", "events", len(events))

	for i, ev := range events {
		if ev.ID == "" {
			m.metrics.EventsEvaluated.WithLabelValues("invalid").Inc()
			logger.Warn("skipping event without id", "index", i)
			continue
		}
		if m.store.Contains(ev.ID) {
			res.Duplicates++
			m.metrics.EventsEvaluated.WithLabelValues("duplicate").Inc()
			continue
		}

		d := m.cfg.Reference.DistanceTo(ev.Geo)
		if !m.cfg.Reference.Contains(d) {
			res.OutOfRange++
			m.metrics.EventsEvaluated.WithLabelValues("out_of_range").Inc()
			logger.Debug("event out of range", "event_id", ev.ID, "distance_km", d)
			continue
		}

		m.metrics.EventsEvaluated.WithLabelValues("notify").Inc()
		if err := m.notifier.Notify(ctx, ev, d); err != nil {
			res.Failed++
			res.Outcome = OutcomeTransient
			res.Err = err
			logger.Warn("notify failed, deferring rest of batch",
				"event_id", ev.ID,
				"distance_km", d,
				"deferred", len(events)-i-1,
				"error", err,
			)
			return res
		}

		if err := m.commit(ctx, ev.ID); err != nil {
			res.Outcome = OutcomeFatal
			res.Err = err
			logger.Error("commit failed after notify", "event_id", ev.ID, "error", err)
			return res
		}
		res.Notified++
		m.metrics.StoreCommits.Inc()
		logger.Info("event notified", "event_id", ev.ID, "distance_km", d, "magnitude", ev.Magnitude)
	}

	return res
}

// commit records a delivered id even when ctx was cancelled after the send,
// so a shutdown signal does not cause the alert to be repeated on restart.
func (m *Monitor) commit(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return m.store.Commit(ctx, id)
}

// nextWait returns the sleep after a non-fatal cycle and advances the
// transient backoff, which resets on the first OK cycle.
func (m *Monitor) nextWait(res CycleResult, backoff *time.Duration) time.Duration {
	if res.Outcome != OutcomeTransient {
		*backoff = m.cfg.PollInterval
		return m.cfg.PollInterval
	}
	wait := max(*backoff, retryAfter(res.Err))
	*backoff = nextBackoff(*backoff, m.cfg.MaxBackoff)
	return wait
}

// retryAfter extracts the feed's requested delay, if any.
func retryAfter(err error) time.Duration {
	var fe *domain.FeedError
	if errors.As(err, &fe) && fe.Kind == domain.FeedRateLimited {
		return fe.RetryAfter
	}
	return 0
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
