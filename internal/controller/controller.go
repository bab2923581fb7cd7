package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"watcherseye/internal/catalog"
	"watcherseye/internal/fetcher"
	"watcherseye/internal/proxy"
	"watcherseye/internal/ratelimit"
)

// ErrRunActive is returned by Start while a previous run has not ended
var ErrRunActive = errors.New("a fetch run is already active")

const (
	defaultCooldownTicks = 10
	defaultTickInterval  = time.Second
	defaultPollInterval  = time.Second
)

// Pacer enforces the request rate between keys
type Pacer interface {
	RecordRequests(n int)
	Cooldown(ctx context.Context) error
}

// RelayLoader builds the relay pool for a run
type RelayLoader interface {
	Load(ctx context.Context) *proxy.Pool
}

// ResultStore persists results
type ResultStore interface {
	Append(ctx context.Context, result fetcher.PriceResult) error
}

// Options tunes the controller. Zero values select the defaults.
type Options struct {
	// CooldownTicks is the number of visible countdown ticks between keys
	CooldownTicks int
	// TickInterval is the length of one countdown tick
	TickInterval time.Duration
	// PollInterval is how often a paused run re-checks its flags
	PollInterval time.Duration
	// NewPacer creates the pacer for each run
	NewPacer func() Pacer
	// Now is the clock used to timestamp results
	Now func() time.Time
}

// Controller walks a worklist of query keys one at a time: query, report,
// persist, pace, count down. It runs at most one fetch run at a time.
type Controller struct {
	catalog  *catalog.Catalog
	querier  fetcher.Querier
	relays   RelayLoader
	store    ResultStore
	observer Observer
	opts     Options

	mu  sync.Mutex
	run *runState
}

// New creates a Controller. relays may be nil for direct connections.
func New(cat *catalog.Catalog, querier fetcher.Querier, relays RelayLoader, store ResultStore, observer Observer, opts Options) *Controller {
	if opts.CooldownTicks <= 0 {
		opts.CooldownTicks = defaultCooldownTicks
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.NewPacer == nil {
		opts.NewPacer = func() Pacer { return ratelimit.New(ratelimit.Options{}) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		catalog:  cat,
		querier:  querier,
		relays:   relays,
		store:    store,
		observer: observer,
		opts:     opts,
	}
}

// Start begins a run over the worklist for mode and returns its id. The run
// continues in the background until the worklist is exhausted or Stop is
// called. Canceling ctx also ends the run, so pass a context that outlives
// the caller (not an HTTP request context).
func (c *Controller) Start(ctx context.Context, mode catalog.Mode) (uuid.UUID, error) {
	if mode != catalog.ModeSingle && mode != catalog.ModePair {
		return uuid.Nil, fmt.Errorf("invalid mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil && !c.run.currentState().Terminal() {
		return uuid.Nil, ErrRunActive
	}

	stopCtx, cancel := context.WithCancel(ctx)
	rs := &runState{
		id:      uuid.New(),
		mode:    mode,
		stopCtx: stopCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pacer:   c.opts.NewPacer(),
		state:   StateRunning,
	}
	rs.running.Store(true)
	c.run = rs

	go c.execute(ctx, rs)
	return rs.id, nil
}

// Pause asks the run to hold before its next key
func (c *Controller) Pause() {
	if rs := c.current(); rs != nil {
		rs.paused.Store(true)
	}
}

// Resume lets a paused run continue from where it held
func (c *Controller) Resume() {
	if rs := c.current(); rs != nil {
		rs.paused.Store(false)
	}
}

// Stop asks the run to end at its next checkpoint. A query already in flight
// completes first; sleeps and pause waits end immediately.
func (c *Controller) Stop() {
	if rs := c.current(); rs != nil {
		rs.stop()
	}
}

// State returns the lifecycle state of the latest run
func (c *Controller) State() State {
	rs := c.current()
	if rs == nil {
		return StateIdle
	}
	return rs.currentState()
}

// RunID returns the id of the latest run, or uuid.Nil before the first Start
func (c *Controller) RunID() uuid.UUID {
	if rs := c.current(); rs != nil {
		return rs.id
	}
	return uuid.Nil
}

// Position returns how many keys of the latest run have been processed
func (c *Controller) Position() int {
	rs := c.current()
	if rs == nil {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.position
}

// Results returns a copy of the results of the latest run
func (c *Controller) Results() []fetcher.PriceResult {
	rs := c.current()
	if rs == nil {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]fetcher.PriceResult(nil), rs.results...)
}

// Wait blocks until the latest run has ended or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	rs := c.current()
	if rs == nil {
		return nil
	}
	select {
	case <-rs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) current() *runState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

func (c *Controller) execute(ctx context.Context, rs *runState) {
	defer close(rs.done)
	defer rs.cancel()

	log := slog.With("run_id", rs.id.String(), "mode", string(rs.mode))
	log.Info("fetch run started")

	c.observer.OnStatus("Loading...")
	c.observer.OnDebug("=== API Debug Info ===")

	rs.relays = proxy.NewPool(nil)
	if c.relays != nil {
		rs.relays = c.relays.Load(rs.stopCtx)
	}

	keys := c.catalog.Worklist(rs.mode)
	for i, key := range keys {
		if !c.checkpoint(rs) {
			c.finish(rs, StateStopped, log)
			return
		}

		c.process(ctx, rs, key, log)

		rs.mu.Lock()
		rs.position = i + 1
		rs.mu.Unlock()

		rs.pacer.RecordRequests(ratelimit.RequestsPerKey)
		if i == len(keys)-1 {
			break
		}

		if err := rs.pacer.Cooldown(rs.stopCtx); err != nil && !rs.stopRequested() {
			log.Warn("pacing interrupted", "error", err)
		}
		c.countdown(rs)
	}

	if rs.stopRequested() {
		c.finish(rs, StateStopped, log)
		return
	}
	c.finish(rs, StateCompleted, log)
}

// process queries one key and records its result
func (c *Controller) process(ctx context.Context, rs *runState, key catalog.QueryKey, log *slog.Logger) {
	c.observer.OnStatus("Fetching: " + c.catalog.KeyLabel(key))

	relay, _ := rs.relays.Next()
	average, diags := c.querier.FetchAverage(ctx, key, relay)
	for _, d := range diags {
		c.observer.OnDebug(d)
	}

	result := fetcher.PriceResult{
		RunID:     rs.id,
		Label1:    c.catalog.Label(key.First),
		Average:   average,
		FetchedAt: c.opts.Now(),
	}
	if key.IsPair() {
		result.Label2 = c.catalog.Label(key.Second)
	}

	rs.mu.Lock()
	rs.results = append(rs.results, result)
	rs.mu.Unlock()

	c.observer.OnResult(average, result.Label1, result.Label2OrPlaceholder())

	if err := c.store.Append(ctx, result); err != nil {
		log.Error("failed to persist result", "key", c.catalog.KeyLabel(key), "error", err)
		c.observer.OnDebug("File write error: " + err.Error())
	}
}

// checkpoint reports whether the run may process another key. A paused run
// waits here, polling its flags, until resumed or stopped.
func (c *Controller) checkpoint(rs *runState) bool {
	if rs.stopRequested() {
		return false
	}
	if !rs.paused.Load() {
		return true
	}

	c.observer.OnStatus("Paused.")
	for rs.paused.Load() {
		if ratelimit.Sleep(rs.stopCtx, c.opts.PollInterval) != nil || rs.stopRequested() {
			return false
		}
	}
	c.observer.OnStatus("Resumed.")
	return !rs.stopRequested()
}

// countdown runs the visible cooldown between keys, ending early on stop
func (c *Controller) countdown(rs *runState) {
	for remaining := c.opts.CooldownTicks; remaining > 0; remaining-- {
		c.observer.OnCountdown(remaining)
		if ratelimit.Sleep(rs.stopCtx, c.opts.TickInterval) != nil || rs.stopRequested() {
			break
		}
	}
	c.observer.OnCountdown(0)
}

// finish emits the final status and only then marks the run terminal, so a
// following Start cannot overlap this run's last observer call
func (c *Controller) finish(rs *runState, state State, log *slog.Logger) {
	if state == StateCompleted {
		c.observer.OnStatus("Done.")
	} else {
		c.observer.OnStatus("Stopped.")
	}

	rs.mu.Lock()
	processed := rs.position
	rs.mu.Unlock()
	log.Info("fetch run ended", "state", string(state), "processed", processed)

	rs.setState(state)
}
