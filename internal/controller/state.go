package controller

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"watcherseye/internal/catalog"
	"watcherseye/internal/fetcher"
	"watcherseye/internal/proxy"
)

// State is the lifecycle state of the controller
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
)

// Terminal reports whether no run is active in this state
func (s State) Terminal() bool {
	return s == StateIdle || s == StateStopped || s == StateCompleted
}

// runState is everything owned by one run. It is created by Start and never
// reused; Pause, Resume and Stop only flip its flags.
type runState struct {
	id   uuid.UUID
	mode catalog.Mode

	running atomic.Bool
	paused  atomic.Bool

	// stopCtx is canceled by Stop so sleeps wake up immediately
	stopCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	pacer  Pacer
	relays *proxy.Pool

	mu       sync.Mutex
	state    State
	position int
	results  []fetcher.PriceResult
}

func (rs *runState) setState(s State) {
	rs.mu.Lock()
	rs.state = s
	rs.mu.Unlock()
}

func (rs *runState) currentState() State {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state == StateRunning && rs.paused.Load() {
		return StatePaused
	}
	return rs.state
}

func (rs *runState) stop() {
	rs.running.Store(false)
	rs.cancel()
}

// stopRequested reports whether the run should end at the next checkpoint
func (rs *runState) stopRequested() bool {
	return !rs.running.Load() || rs.stopCtx.Err() != nil
}
