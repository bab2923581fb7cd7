package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerMinute is the trade API's documented per-minute cap
	DefaultRequestsPerMinute = 15
	// DefaultWindow is the length of the rolling window
	DefaultWindow = time.Minute
	// DefaultSteadyStateFactor scales the cap down for the inter-request delay
	DefaultSteadyStateFactor = 0.5
	// RequestsPerKey is the number of requests one query key costs (search + fetch)
	RequestsPerKey = 2
)

// SleepFunc suspends for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Pacer. Zero values select the defaults.
type Options struct {
	RequestsPerMinute int
	Window            time.Duration

	// SteadyStateFactor sets the sustained rate as a fraction of the cap.
	// A negative value disables the steady-state delay.
	SteadyStateFactor float64

	Now   func() time.Time
	Sleep SleepFunc
}

// Pacer keeps the pipeline under the trade API rate limit with two
// independent checks:
//
//   - a burst check: once the requests counted in the current window reach
//     cap-1, Cooldown sleeps until the window ends and starts a new one
//   - a steady-state token bucket refilled at cap*factor per window, so
//     sustained throughput stays well below the cap
//
// A Pacer belongs to one run and is not reused.
type Pacer struct {
	mu sync.Mutex

	threshold   int
	window      time.Duration
	count       int
	pending     int
	windowStart time.Time
	steady      *rate.Limiter

	now   func() time.Time
	sleep SleepFunc
}

// New creates a pacer whose window starts now
func New(opts Options) *Pacer {
	if opts.RequestsPerMinute < 2 {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SteadyStateFactor == 0 {
		opts.SteadyStateFactor = DefaultSteadyStateFactor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}

	steady := rate.NewLimiter(rate.Inf, RequestsPerKey)
	if opts.SteadyStateFactor > 0 {
		perSecond := float64(opts.RequestsPerMinute) * opts.SteadyStateFactor / opts.Window.Seconds()
		steady = rate.NewLimiter(rate.Limit(perSecond), RequestsPerKey)
	}

	return &Pacer{
		threshold:   opts.RequestsPerMinute - 1,
		window:      opts.Window,
		windowStart: opts.Now(),
		steady:      steady,
		now:         opts.Now,
		sleep:       opts.Sleep,
	}
}

// RecordRequests counts n requests against the current window. Requests made
// after the window has expired open a new window and count against it.
func (p *Pacer) RecordRequests(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollWindow(p.now())
	p.count += n
	p.pending += n
}

// rollWindow starts a new window at now once the current one has expired
func (p *Pacer) rollWindow(now time.Time) {
	if now.Sub(p.windowStart) >= p.window {
		p.count = 0
		p.windowStart = now
	}
}

// Count returns the requests counted in the current window
func (p *Pacer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// WindowStart returns when the current window began
func (p *Pacer) WindowStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.windowStart
}

// Threshold returns the request count that triggers a window wait
func (p *Pacer) Threshold() int {
	return p.threshold
}

// Cooldown suspends as long as the rate policy requires. It returns early with
// ctx.Err() when ctx is canceled.
func (p *Pacer) Cooldown(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	p.rollWindow(now)
	elapsed := now.Sub(p.windowStart)

	if p.count >= p.threshold {
		wait := p.window - elapsed
		count := p.count
		p.pending = 0
		p.mu.Unlock()

		slog.Info("request window exhausted, waiting", "requests", count, "wait", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}

		p.mu.Lock()
		p.count = 0
		p.windowStart = p.now()
		p.mu.Unlock()
		return nil
	}

	n := min(p.pending, p.steady.Burst())
	p.pending = 0
	delay := time.Duration(0)
	if n > 0 {
		if r := p.steady.ReserveN(now, n); r.OK() {
			delay = r.DelayFrom(now)
		}
	}
	p.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	slog.Debug("pacing before next request", "delay", delay)
	return p.sleep(ctx, delay)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
