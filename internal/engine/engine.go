// Package engine drives pending events from the local log to the
// remote replica. It owns the sync state machine, retry/backoff policy
// and conflict handling, and funnels every trigger source through a
// single-flight guard so at most one cycle runs at a time.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftkit/driftsync/internal/config"
	"github.com/driftkit/driftsync/internal/event"
	"github.com/driftkit/driftsync/internal/eventlog"
	"github.com/driftkit/driftsync/internal/metrics"
	"github.com/driftkit/driftsync/internal/remote"
	"github.com/driftkit/driftsync/internal/resolver"
)

// State is the engine's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// FailedEvent is one event the last cycle could not sync.
type FailedEvent struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
	// Retryable reports whether the event will be reconsidered by later
	// automatic cycles (retry budget not yet exhausted).
	Retryable bool `json:"retryable"`
}

// Result is the outcome of one sync cycle.
type Result struct {
	Success      bool          `json:"success"`
	SyncedIDs    []string      `json:"synced_ids"`
	FailedEvents []FailedEvent `json:"failed_events"`
	Conflicts    []*Conflict   `json:"conflicts"`
	DurationMs   int64         `json:"duration_ms"`
}

func emptyResult() *Result {
	return &Result{Success: true}
}

// Stats are cumulative engine counters exposed to subscribers.
type Stats struct {
	TotalSynced    int           `json:"total_synced"`
	TotalFailed    int           `json:"total_failed"`
	TotalConflicts int           `json:"total_conflicts"`
	LastSyncAt     time.Time     `json:"last_sync_at"`
	LastDuration   time.Duration `json:"-"`
	Pending        int           `json:"pending"`
	Failed         int           `json:"failed"`
}

// Engine is the sync orchestrator. One Engine owns one log/replica
// pair; all status-field writes to the log go through it.
type Engine struct {
	log      *eventlog.Log
	remote   remote.Replica
	registry *resolver.Registry
	now      func() time.Time

	cfg     atomic.Pointer[config.SyncConf]
	metered atomic.Bool

	mu        sync.Mutex
	state     State
	inFlight  bool
	paused    bool
	running   bool
	stats     Stats
	conflicts map[string]*Conflict

	stateSubs  *subscribers[State]
	statsSubs  *subscribers[Stats]
	resultSubs *subscribers[*Result]
	errorSubs  *subscribers[error]

	syncReq    chan struct{}
	cfgChanged chan struct{}
	stop       chan struct{}
	wg         sync.WaitGroup
}

// Option tunes an Engine at construction.
type Option func(*Engine)

// WithRegistry supplies a resolver registry carrying custom strategies.
func WithRegistry(r *resolver.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithClock swaps the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine in the Idle state. Call Start to arm the
// periodic timer, or drive cycles manually with SyncNow.
func New(log *eventlog.Log, replica remote.Replica, cfg config.SyncConf, opts ...Option) *Engine {
	e := &Engine{
		log:        log,
		remote:     replica,
		registry:   resolver.NewRegistry(),
		now:        time.Now,
		state:      StateIdle,
		conflicts:  make(map[string]*Conflict),
		stateSubs:  newSubscribers[State](),
		statsSubs:  newSubscribers[Stats](),
		resultSubs: newSubscribers[*Result](),
		errorSubs:  newSubscribers[error](),
		syncReq:    make(chan struct{}, 1),
		cfgChanged: make(chan struct{}, 1),
	}
	c := cfg
	e.cfg.Store(&c)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the tunables the next cycle will use.
func (e *Engine) Config() config.SyncConf {
	return *e.cfg.Load()
}

// UpdateConfig swaps the tunables. Takes effect on the next cycle, not
// retroactively on an in-flight one. A config naming an unknown
// conflict strategy is rejected and logged.
func (e *Engine) UpdateConfig(cfg config.SyncConf) {
	if !e.registry.Known(cfg.ConflictStrategy) {
		slog.Warn("config update rejected: unknown conflict strategy",
			"strategy", cfg.ConflictStrategy)
		return
	}
	c := cfg
	e.cfg.Store(&c)
	signal(e.cfgChanged)
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the cumulative counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// SetMetered records whether the current connection is metered. With
// wifi_only configured, cycles are deferred while metered.
func (e *Engine) SetMetered(metered bool) {
	e.metered.Store(metered)
}

// HandleConnectivity applies a connectivity notification from the
// external lifecycle observer: offline pauses the engine, online
// resumes it and triggers a catch-up cycle.
func (e *Engine) HandleConnectivity(online, metered bool) {
	e.metered.Store(metered)
	if online {
		e.Resume()
	} else {
		e.Pause()
	}
}

// Start probes the remote (advisory only), triggers an immediate first
// cycle, and arms the periodic timer when a positive interval is
// configured. Idempotent while running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.mu.Unlock()

	if err := e.remote.HealthCheck(ctx); err != nil {
		slog.Warn("remote health check failed; syncing anyway", "err", err)
	}

	e.wg.Add(1)
	go e.loop(ctx)
	e.requestSync()
}

// Stop disarms the periodic timer and returns the engine to Idle. An
// in-flight cycle is not aborted; Stop waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.paused = false
	changed := e.setStateLocked(StateIdle)
	e.mu.Unlock()
	if changed {
		e.stateSubs.publish(StateIdle)
	}
}

// Pause suppresses further cycles. The pause takes hold immediately for
// scheduling purposes, but an in-flight cycle runs to completion
// (cancellation is advisory only).
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	changed := e.setStateLocked(StatePaused)
	e.mu.Unlock()
	if changed {
		e.stateSubs.publish(StatePaused)
	}
}

// Resume lifts a pause and immediately triggers a cycle.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	changed := false
	if !e.inFlight {
		changed = e.setStateLocked(StateIdle)
	}
	e.mu.Unlock()
	if changed {
		e.stateSubs.publish(StateIdle)
	}
	e.requestSync()
}

// Paused reports whether the pause flag is set.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SyncNow runs one sync cycle in the caller's goroutine. If a cycle is
// already in flight, or the engine is paused, or wifi_only defers the
// cycle, it is a no-op returning an empty successful result: triggers
// never queue behind one another (single-flight).
func (e *Engine) SyncNow(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.inFlight || e.paused {
		e.mu.Unlock()
		return emptyResult(), nil
	}
	cfg := *e.cfg.Load()
	if cfg.WifiOnly && e.metered.Load() {
		e.mu.Unlock()
		slog.Debug("sync deferred: metered connection with wifi_only set")
		return emptyResult(), nil
	}
	e.inFlight = true
	changed := e.setStateLocked(StateSyncing)
	e.mu.Unlock()
	if changed {
		e.stateSubs.publish(StateSyncing)
	}

	res, err := e.safeCycle(ctx, cfg)
	if err != nil {
		slog.Error("sync cycle failed", "err", err)
	}

	// Gauge refresh is best-effort; counts feed stats subscribers.
	var pending, failedCount int
	if counts, cerr := e.log.CountByStatus(ctx); cerr == nil {
		pending = counts[event.StatusPending]
		failedCount = counts[event.StatusFailed]
		metrics.PendingEvents.Set(float64(pending))
		metrics.FailedEvents.Set(float64(failedCount))
	}

	e.mu.Lock()
	e.inFlight = false
	var next State
	switch {
	case e.paused:
		next = StatePaused
	case err != nil || !res.Success:
		next = StateError
	default:
		next = StateIdle
	}
	changed = e.setStateLocked(next)
	e.stats.TotalSynced += len(res.SyncedIDs)
	e.stats.TotalFailed += len(res.FailedEvents)
	e.stats.TotalConflicts += len(res.Conflicts)
	e.stats.LastSyncAt = e.now()
	e.stats.LastDuration = time.Duration(res.DurationMs) * time.Millisecond
	e.stats.Pending = pending
	e.stats.Failed = failedCount
	stats := e.stats
	e.mu.Unlock()

	if changed {
		e.stateSubs.publish(next)
	}
	e.statsSubs.publish(stats)
	e.resultSubs.publish(res)
	if err != nil {
		e.errorSubs.publish(err)
	}
	return res, err
}

// RetryFailedEvents resets every failed event to pending, zeroing its
// retry budget, and immediately re-submits in one batch.
func (e *Engine) RetryFailedEvents(ctx context.Context) (*Result, error) {
	failed, err := e.log.Failed(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return emptyResult(), nil
	}
	ids := make([]string, len(failed))
	for i, ev := range failed {
		ids[i] = ev.ID
	}
	if err := e.log.UpdateStatusBatch(ctx, ids, event.StatusPending, eventlog.StatusOpts{ResetRetry: true}); err != nil {
		return nil, err
	}
	return e.SyncNow(ctx)
}

// loop is the cooperative scheduler: a single goroutine that sleeps
// until the next timer tick or an external sync request, re-checking
// the pause flag each wake. Config changes re-tune the timer without
// forcing a cycle.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.Config().Interval()
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if interval > 0 {
		ticker = time.NewTicker(interval)
		tickC = ticker.C
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		wantSync := false
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-tickC:
			wantSync = true
		case <-e.syncReq:
			wantSync = true
		case <-e.cfgChanged:
		}

		if next := e.Config().Interval(); next != interval {
			if ticker != nil {
				ticker.Stop()
				ticker, tickC = nil, nil
			}
			if next > 0 {
				ticker = time.NewTicker(next)
				tickC = ticker.C
			}
			interval = next
		}

		if !wantSync || e.Paused() {
			continue
		}
		// Errors are reported via the error subscription; the loop
		// itself never dies on a failed cycle.
		_, _ = e.SyncNow(ctx)
	}
}

// requestSync nudges the scheduler; a pending request coalesces with
// later ones.
func (e *Engine) requestSync() {
	signal(e.syncReq)
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// setStateLocked records a state change; the caller publishes it after
// releasing the mutex. Must be called with e.mu held.
func (e *Engine) setStateLocked(s State) bool {
	if e.state == s {
		return false
	}
	e.state = s
	return true
}

// subscription surface: each On* registers a callback and returns a
// disposer that removes it. Callbacks run synchronously on the engine's
// goroutine; keep them short and do not call back into the engine.

// OnStateChange fires on every state transition.
func (e *Engine) OnStateChange(fn func(State)) (unsubscribe func()) {
	return e.stateSubs.subscribe(fn)
}

// OnStats fires after every cycle with the cumulative counters.
func (e *Engine) OnStats(fn func(Stats)) (unsubscribe func()) {
	return e.statsSubs.subscribe(fn)
}

// OnSyncComplete fires with each cycle's result.
func (e *Engine) OnSyncComplete(fn func(*Result)) (unsubscribe func()) {
	return e.resultSubs.subscribe(fn)
}

// OnSyncError fires when a cycle errors (transport failure, storage
// failure or panic). Cycle errors never escape Start or the timer.
func (e *Engine) OnSyncError(fn func(error)) (unsubscribe func()) {
	return e.errorSubs.subscribe(fn)
}
