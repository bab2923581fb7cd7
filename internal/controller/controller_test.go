package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"watcherseye/internal/catalog"
	"watcherseye/internal/fetcher"
	"watcherseye/internal/proxy"
	"watcherseye/internal/testutil"
)

type fixture struct {
	ctrl     *Controller
	querier  *testutil.MockQuerier
	store    *testutil.MockStore
	observer *testutil.RecordingObserver
	pacers   atomic.Int32
	pacer    *testutil.MockPacer
}

type staticRelays []string

func (s staticRelays) Load(ctx context.Context) *proxy.Pool {
	return proxy.NewPool(s)
}

func newFixture(t *testing.T, querier *testutil.MockQuerier, relays RelayLoader) *fixture {
	t.Helper()
	f := &fixture{
		querier:  querier,
		store:    &testutil.MockStore{},
		observer: &testutil.RecordingObserver{},
		pacer:    &testutil.MockPacer{},
	}
	f.ctrl = New(catalog.Default(), querier, relays, f.store, f.observer, Options{
		CooldownTicks: 3,
		TickInterval:  time.Millisecond,
		PollInterval:  time.Millisecond,
		NewPacer: func() Pacer {
			f.pacers.Add(1)
			return f.pacer
		},
	})
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.ctrl.Wait(ctx); err != nil {
		t.Fatalf("Wait() returned unexpected error: %v", err)
	}
}

func TestController_IdleBeforeStart(t *testing.T) {
	f := newFixture(t, testutil.NewMockQuerier(fetcher.NoData()), nil)

	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("State() = %q, want %q", got, StateIdle)
	}

	// control calls without a run are no-ops
	f.ctrl.Pause()
	f.ctrl.Resume()
	f.ctrl.Stop()

	if err := f.ctrl.Wait(context.Background()); err != nil {
		t.Errorf("Wait() returned unexpected error: %v", err)
	}
}

func TestController_CompletesPairRun(t *testing.T) {
	f := newFixture(t, testutil.NewMockQuerier(fetcher.Of(15.456), "[SEARCH] trace"), nil)

	id, err := f.ctrl.Start(context.Background(), catalog.ModePair)
	if err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}
	f.wait(t)

	if got := f.ctrl.State(); got != StateCompleted {
		t.Errorf("State() = %q, want %q", got, StateCompleted)
	}

	keys := f.querier.Keys()
	want := catalog.Default().Worklist(catalog.ModePair)
	if len(keys) != len(want) {
		t.Fatalf("queried %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %+v, want %+v", i, keys[i], want[i])
		}
	}

	events := f.observer.Results()
	if len(events) != 3 {
		t.Fatalf("got %d result events, want 3", len(events))
	}
	if events[0].Label1 != "Wrath Damage" || events[0].Label2 != "Wrath Crit" {
		t.Errorf("events[0] = %+v", events[0])
	}

	results := f.ctrl.Results()
	for _, r := range results {
		if r.RunID != id {
			t.Errorf("result RunID = %v, want %v", r.RunID, id)
		}
	}
	if f.ctrl.Position() != 3 {
		t.Errorf("Position() = %d, want 3", f.ctrl.Position())
	}

	if got := f.pacer.Requests(); got != 6 {
		t.Errorf("recorded requests = %d, want 6", got)
	}
	// no pacing after the last key: nothing follows it
	if got := f.pacer.Cooldowns(); got != 2 {
		t.Errorf("cooldowns = %d, want 2", got)
	}

	// 3,2,1,0 after every key except the last
	wantTicks := []int{3, 2, 1, 0, 3, 2, 1, 0}
	ticks := f.observer.Countdowns()
	if len(ticks) != len(wantTicks) {
		t.Fatalf("countdowns = %v, want %v", ticks, wantTicks)
	}
	for i := range wantTicks {
		if ticks[i] != wantTicks[i] {
			t.Errorf("countdowns = %v, want %v", ticks, wantTicks)
			break
		}
	}

	for _, s := range []string{"Loading...", "Fetching: Wrath Damage + Wrath Crit", "Done."} {
		if !f.observer.HasStatus(s) {
			t.Errorf("missing status %q in %v", s, f.observer.Statuses())
		}
	}
	if !f.observer.HasDebugPrefix("[SEARCH] trace") || !f.observer.HasDebugPrefix("=== API Debug Info ===") {
		t.Errorf("debug = %v, want diagnostics forwarded", f.observer.Debug())
	}
}

func TestController_ResultEventsMatchStore(t *testing.T) {
	values := []fetcher.Average{fetcher.Of(10.005), fetcher.NoData(), fetcher.Of(3), fetcher.Of(1.111), fetcher.NoData(), fetcher.Of(99.999)}
	var call atomic.Int32
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			return values[int(call.Add(1))-1], nil
		},
	}
	f := newFixture(t, querier, nil)

	if _, err := f.ctrl.Start(context.Background(), catalog.ModeSingle); err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}
	f.wait(t)

	events := f.observer.Results()
	records, _ := f.store.ReadAll(context.Background())
	if len(events) != 6 || len(records) != 6 {
		t.Fatalf("events = %d, records = %d, want 6 each", len(events), len(records))
	}

	for i, ev := range events {
		rec := records[i]
		if rec.Attribute1 != ev.Label1 {
			t.Errorf("[%d] record label %q, event label %q", i, rec.Attribute1, ev.Label1)
		}
		if ev.Label2 != fetcher.Label2Placeholder || rec.Attribute2 != nil {
			t.Errorf("[%d] second label event=%q record=%v", i, ev.Label2, rec.Attribute2)
		}
		want, ok := ev.Average.Rounded().Value()
		if ok != (rec.AveragePrice != nil) || (ok && *rec.AveragePrice != want) {
			t.Errorf("[%d] record price %v, event %v", i, rec.AveragePrice, ev.Average)
		}
	}
}

func TestController_PauseResumeKeepsPosition(t *testing.T) {
	var f *fixture
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			if len(f.querier.Keys()) == 1 {
				f.ctrl.Pause()
			}
			return fetcher.Of(1), nil
		},
	}
	f = newFixture(t, querier, nil)

	if _, err := f.ctrl.Start(context.Background(), catalog.ModePair); err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}

	if !testutil.Eventually(2*time.Second, func() bool { return f.observer.HasStatus("Paused.") }) {
		t.Fatal("run never reported Paused.")
	}
	if got := f.ctrl.State(); got != StatePaused {
		t.Errorf("State() = %q, want %q", got, StatePaused)
	}

	// no requests are made while paused
	time.Sleep(20 * time.Millisecond)
	if got := len(f.querier.Keys()); got != 1 {
		t.Fatalf("queried %d keys while paused, want 1", got)
	}

	f.ctrl.Resume()
	f.wait(t)

	if got := f.ctrl.State(); got != StateCompleted {
		t.Errorf("State() = %q, want %q", got, StateCompleted)
	}
	keys := f.querier.Keys()
	want := catalog.Default().Worklist(catalog.ModePair)
	if len(keys) != len(want) {
		t.Fatalf("queried %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %+v, want %+v", i, keys[i], want[i])
		}
	}
	if !f.observer.HasStatus("Resumed.") {
		t.Error("missing Resumed. status")
	}
}

func TestController_StopWhilePaused(t *testing.T) {
	var f *fixture
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			f.ctrl.Pause()
			return fetcher.Of(1), nil
		},
	}
	f = newFixture(t, querier, nil)
	// a long poll interval shows Stop does not wait for the next poll
	f.ctrl.opts.PollInterval = time.Hour

	if _, err := f.ctrl.Start(context.Background(), catalog.ModeSingle); err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}
	if !testutil.Eventually(2*time.Second, func() bool { return f.observer.HasStatus("Paused.") }) {
		t.Fatal("run never reported Paused.")
	}

	f.ctrl.Stop()
	f.wait(t)

	if got := f.ctrl.State(); got != StateStopped {
		t.Errorf("State() = %q, want %q", got, StateStopped)
	}
	if got := len(f.querier.Keys()); got != 1 {
		t.Errorf("queried %d keys, want 1", got)
	}
	if !f.observer.HasStatus("Stopped.") {
		t.Error("missing Stopped. status")
	}
}

func TestController_StopDuringCountdown(t *testing.T) {
	var f *fixture
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			return fetcher.Of(2), nil
		},
	}
	f = newFixture(t, querier, nil)
	f.ctrl.opts.TickInterval = time.Hour

	if _, err := f.ctrl.Start(context.Background(), catalog.ModePair); err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}
	if !testutil.Eventually(2*time.Second, func() bool { return len(f.observer.Countdowns()) > 0 }) {
		t.Fatal("countdown never started")
	}

	start := time.Now()
	f.ctrl.Stop()
	f.wait(t)

	if time.Since(start) > time.Second {
		t.Error("Stop() did not interrupt the countdown")
	}
	if got := f.ctrl.State(); got != StateStopped {
		t.Errorf("State() = %q, want %q", got, StateStopped)
	}
	if got := len(f.querier.Keys()); got != 1 {
		t.Errorf("queried %d keys, want 1", got)
	}
	ticks := f.observer.Countdowns()
	if ticks[len(ticks)-1] != 0 {
		t.Errorf("countdowns = %v, want trailing 0", ticks)
	}
}

func TestController_StopDuringQueryTakesEffectAtCheckpoint(t *testing.T) {
	var f *fixture
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			f.ctrl.Stop()
			return fetcher.Of(5), nil
		},
	}
	f = newFixture(t, querier, nil)

	f.ctrl.Start(context.Background(), catalog.ModeSingle)
	f.wait(t)

	// the in-flight key still completes and is reported
	if got := len(f.observer.Results()); got != 1 {
		t.Errorf("result events = %d, want 1", got)
	}
	if got := len(f.store.Results()); got != 1 {
		t.Errorf("stored = %d, want 1", got)
	}
	if got := f.ctrl.State(); got != StateStopped {
		t.Errorf("State() = %q, want %q", got, StateStopped)
	}
}

func TestController_StartWhileActive(t *testing.T) {
	release := make(chan struct{})
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			<-release
			return fetcher.NoData(), nil
		},
	}
	f := newFixture(t, querier, nil)

	if _, err := f.ctrl.Start(context.Background(), catalog.ModeSingle); err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}
	if _, err := f.ctrl.Start(context.Background(), catalog.ModePair); !errors.Is(err, ErrRunActive) {
		t.Errorf("second Start() = %v, want ErrRunActive", err)
	}

	f.ctrl.Stop()
	close(release)
	f.wait(t)
}

func TestController_RestartAfterStopKeepsEventOrder(t *testing.T) {
	release := make(chan struct{})
	querier := &testutil.MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			<-release
			return fetcher.Of(1), nil
		},
	}
	f := newFixture(t, querier, nil)

	if _, err := f.ctrl.Start(context.Background(), catalog.ModeSingle); err != nil {
		t.Fatalf("Start() returned unexpected error: %v", err)
	}
	if !testutil.Eventually(2*time.Second, func() bool { return len(f.querier.Keys()) == 1 }) {
		t.Fatal("first query never started")
	}

	f.ctrl.Stop()
	close(release)

	// start again as soon as the controller accepts it
	started := testutil.Eventually(2*time.Second, func() bool {
		_, err := f.ctrl.Start(context.Background(), catalog.ModePair)
		return err == nil
	})
	if !started {
		t.Fatal("second Start() never succeeded")
	}
	f.wait(t)

	statuses := f.observer.Statuses()
	stopped, secondLoading := -1, -1
	loadings := 0
	for i, s := range statuses {
		switch s {
		case "Stopped.":
			stopped = i
		case "Loading...":
			loadings++
			if loadings == 2 {
				secondLoading = i
			}
		}
	}
	if stopped < 0 || secondLoading < 0 {
		t.Fatalf("statuses = %v, want Stopped. and a second Loading...", statuses)
	}
	if stopped > secondLoading {
		t.Errorf("statuses = %v: first run reported Stopped. after the second run began", statuses)
	}
	if last := statuses[len(statuses)-1]; last != "Done." {
		t.Errorf("last status = %q, want Done.", last)
	}
}

func TestController_NewRunResetsState(t *testing.T) {
	f := newFixture(t, testutil.NewMockQuerier(fetcher.Of(1)), nil)

	first, _ := f.ctrl.Start(context.Background(), catalog.ModePair)
	f.wait(t)

	second, err := f.ctrl.Start(context.Background(), catalog.ModePair)
	if err != nil {
		t.Fatalf("Start() after completion returned unexpected error: %v", err)
	}
	f.wait(t)

	if first == second {
		t.Error("runs share an id")
	}
	if got := len(f.ctrl.Results()); got != 3 {
		t.Errorf("Results() = %d entries, want 3 from the latest run only", got)
	}
	if got := f.pacers.Load(); got != 2 {
		t.Errorf("pacers created = %d, want one per run", got)
	}
	if got := len(f.store.Results()); got != 6 {
		t.Errorf("stored = %d, want 6 across both runs", got)
	}
}

func TestController_InvalidMode(t *testing.T) {
	f := newFixture(t, testutil.NewMockQuerier(fetcher.NoData()), nil)
	if _, err := f.ctrl.Start(context.Background(), catalog.Mode("triple")); err == nil {
		t.Error("Start() expected error for invalid mode, got nil")
	}
}

func TestController_FailuresDoNotStopRun(t *testing.T) {
	querier := testutil.NewMockQuerier(fetcher.NoData(), "Search Error: 503: server returned an error")
	f := newFixture(t, querier, nil)
	f.store.AppendFunc = func(ctx context.Context, result fetcher.PriceResult) error {
		return errors.New("disk full")
	}

	f.ctrl.Start(context.Background(), catalog.ModeSingle)
	f.wait(t)

	if got := f.ctrl.State(); got != StateCompleted {
		t.Errorf("State() = %q, want %q", got, StateCompleted)
	}
	if got := len(f.observer.Results()); got != 6 {
		t.Errorf("result events = %d, want 6", got)
	}
	for _, ev := range f.observer.Results() {
		if ev.Average.Valid() {
			t.Errorf("event %+v, want NoData", ev)
		}
	}
	if !f.observer.HasDebugPrefix("File write error: disk full") {
		t.Error("persistence failure not reported on debug channel")
	}
	if !f.observer.HasDebugPrefix("Search Error: 503") {
		t.Error("query diagnostics not forwarded")
	}
}

func TestController_RotatesRelays(t *testing.T) {
	f := newFixture(t, testutil.NewMockQuerier(fetcher.Of(1)), staticRelays{"a:1", "b:2"})

	f.ctrl.Start(context.Background(), catalog.ModePair)
	f.wait(t)

	want := []string{"http://a:1", "http://b:2", "http://a:1"}
	got := f.querier.Relays()
	if len(got) != len(want) {
		t.Fatalf("relays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("relays = %v, want %v", got, want)
			break
		}
	}
}

func TestController_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	querier := &testutil.MockQuerier{
		FetchFunc: func(qctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			cancel()
			return fetcher.NoData(), nil
		},
	}
	f := newFixture(t, querier, nil)

	f.ctrl.Start(ctx, catalog.ModeSingle)
	f.wait(t)

	if got := f.ctrl.State(); got != StateStopped {
		t.Errorf("State() = %q, want %q", got, StateStopped)
	}
	if got := len(f.querier.Keys()); got != 1 {
		t.Errorf("queried %d keys, want 1", got)
	}
}

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, true},
		{StateRunning, false},
		{StatePaused, false},
		{StateStopped, true},
		{StateCompleted, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%q.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
