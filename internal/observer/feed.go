package observer

import (
	"sync"
	"time"

	"watcherseye/internal/fetcher"
)

const defaultDebugLimit = 500

// Row is one result line of the feed
type Row struct {
	Mod1    string   `json:"mod1"`
	Mod2    string   `json:"mod2"`
	Average *float64 `json:"average"`
	Display string   `json:"display"`
}

// Snapshot is a point-in-time copy of the feed
type Snapshot struct {
	Status    string    `json:"status"`
	Countdown int       `json:"countdown"`
	Rows      []Row     `json:"rows"`
	Debug     []string  `json:"debug"`
	Updated   time.Time `json:"updated"`
}

// Feed keeps the latest events in memory for pull-based consumers such as
// the HTTP control surface. Debug lines are capped at the most recent limit.
type Feed struct {
	mu         sync.RWMutex
	status     string
	countdown  int
	rows       []Row
	debug      []string
	debugLimit int
	updated    time.Time
}

// NewFeed creates a feed keeping at most debugLimit debug lines (0 = default)
func NewFeed(debugLimit int) *Feed {
	if debugLimit <= 0 {
		debugLimit = defaultDebugLimit
	}
	return &Feed{status: "Ready.", debugLimit: debugLimit}
}

func (f *Feed) OnResult(average fetcher.Average, label1, label2 string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, Row{Mod1: label1, Mod2: label2, Average: average.Ptr(), Display: average.String()})
	f.updated = time.Now()
}

func (f *Feed) OnStatus(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// a new run clears the table
	if text == "Loading..." {
		f.rows = nil
		f.debug = nil
	}
	f.status = text
	f.updated = time.Now()
}

func (f *Feed) OnDebug(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debug = append(f.debug, text)
	if over := len(f.debug) - f.debugLimit; over > 0 {
		f.debug = append([]string(nil), f.debug[over:]...)
	}
}

func (f *Feed) OnCountdown(remaining int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countdown = remaining
	f.updated = time.Now()
}

// Snapshot returns a copy of the feed
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Snapshot{
		Status:    f.status,
		Countdown: f.countdown,
		Rows:      append([]Row(nil), f.rows...),
		Debug:     append([]string(nil), f.debug...),
		Updated:   f.updated,
	}
}
