package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"watcherseye/internal/catalog"
	"watcherseye/internal/fetcher"
	"watcherseye/internal/store"
)

// MockQuerier is a mock implementation of the fetcher.Querier interface for testing
type MockQuerier struct {
	FetchFunc func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string)

	mu     sync.Mutex
	keys   []catalog.QueryKey
	relays []string
}

// FetchAverage implements the fetcher.Querier interface
func (m *MockQuerier) FetchAverage(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.relays = append(m.relays, relay)
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, key, relay)
	}
	return fetcher.NoData(), nil
}

// Keys returns the keys queried so far, in order
func (m *MockQuerier) Keys() []catalog.QueryKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.QueryKey(nil), m.keys...)
}

// Relays returns the relay passed with each query, in order
func (m *MockQuerier) Relays() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.relays...)
}

// NewMockQuerier creates a querier that answers every key with avg
func NewMockQuerier(avg fetcher.Average, diags ...string) *MockQuerier {
	return &MockQuerier{
		FetchFunc: func(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
			return avg, diags
		},
	}
}

// MockStore records appended results in memory
type MockStore struct {
	AppendFunc func(ctx context.Context, result fetcher.PriceResult) error

	mu      sync.Mutex
	results []fetcher.PriceResult
}

// Append implements controller.ResultStore
func (m *MockStore) Append(ctx context.Context, result fetcher.PriceResult) error {
	if m.AppendFunc != nil {
		if err := m.AppendFunc(ctx, result); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.results = append(m.results, result)
	m.mu.Unlock()
	return nil
}

// ReadAll implements store.Store
func (m *MockStore) ReadAll(ctx context.Context) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]store.Record, 0, len(m.results))
	for _, r := range m.results {
		records = append(records, store.NewRecord(r))
	}
	return records, nil
}

// Close implements store.Store
func (m *MockStore) Close() error {
	return nil
}

// Results returns the stored results
func (m *MockStore) Results() []fetcher.PriceResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetcher.PriceResult(nil), m.results...)
}

// MockPacer counts recorded requests and never sleeps unless CooldownFunc does
type MockPacer struct {
	CooldownFunc func(ctx context.Context) error

	mu        sync.Mutex
	requests  int
	cooldowns int
}

// RecordRequests implements controller.Pacer
func (m *MockPacer) RecordRequests(n int) {
	m.mu.Lock()
	m.requests += n
	m.mu.Unlock()
}

// Cooldown implements controller.Pacer
func (m *MockPacer) Cooldown(ctx context.Context) error {
	m.mu.Lock()
	m.cooldowns++
	m.mu.Unlock()
	if m.CooldownFunc != nil {
		return m.CooldownFunc(ctx)
	}
	return nil
}

// Requests returns the total recorded requests
func (m *MockPacer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Cooldowns returns how many times Cooldown was called
func (m *MockPacer) Cooldowns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldowns
}

// ResultEvent is one OnResult call
type ResultEvent struct {
	Average fetcher.Average
	Label1  string
	Label2  string
}

// RecordingObserver captures every observer event
type RecordingObserver struct {
	mu         sync.Mutex
	results    []ResultEvent
	statuses   []string
	debug      []string
	countdowns []int
}

// OnResult implements controller.Observer
func (o *RecordingObserver) OnResult(average fetcher.Average, label1, label2 string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, ResultEvent{Average: average, Label1: label1, Label2: label2})
}

// OnStatus implements controller.Observer
func (o *RecordingObserver) OnStatus(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, text)
}

// OnDebug implements controller.Observer
func (o *RecordingObserver) OnDebug(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.debug = append(o.debug, text)
}

// OnCountdown implements controller.Observer
func (o *RecordingObserver) OnCountdown(remaining int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.countdowns = append(o.countdowns, remaining)
}

// Results returns the captured result events
func (o *RecordingObserver) Results() []ResultEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ResultEvent(nil), o.results...)
}

// Statuses returns the captured status lines
func (o *RecordingObserver) Statuses() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.statuses...)
}

// Debug returns the captured debug lines
func (o *RecordingObserver) Debug() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.debug...)
}

// Countdowns returns the captured countdown ticks
func (o *RecordingObserver) Countdowns() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.countdowns...)
}

// HasStatus reports whether a status line equal to text was seen
func (o *RecordingObserver) HasStatus(text string) bool {
	for _, s := range o.Statuses() {
		if s == text {
			return true
		}
	}
	return false
}

// HasDebugPrefix reports whether a debug line starting with prefix was seen
func (o *RecordingObserver) HasDebugPrefix(prefix string) bool {
	for _, d := range o.Debug() {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

// Eventually polls cond every millisecond until it holds or timeout elapses
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
