package observer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"watcherseye/internal/fetcher"
)

// Observer mirrors controller.Observer so this package does not depend on the controller
type Observer interface {
	OnResult(average fetcher.Average, label1, label2 string)
	OnStatus(text string)
	OnDebug(text string)
	OnCountdown(remaining int)
}

// Multi fans every event out to each observer in order
type Multi []Observer

func (m Multi) OnResult(average fetcher.Average, label1, label2 string) {
	for _, o := range m {
		o.OnResult(average, label1, label2)
	}
}

func (m Multi) OnStatus(text string) {
	for _, o := range m {
		o.OnStatus(text)
	}
}

func (m Multi) OnDebug(text string) {
	for _, o := range m {
		o.OnDebug(text)
	}
}

func (m Multi) OnCountdown(remaining int) {
	for _, o := range m {
		o.OnCountdown(remaining)
	}
}

// Console renders results as a table on w. Debug lines are dropped; pair it
// with Log to keep them.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	currency string
	header   bool
	counting bool
}

// NewConsole creates a console observer labelling prices with currency
func NewConsole(w io.Writer, currency string) *Console {
	return &Console{
		w:        w,
		currency: currency,
	}
}

func (c *Console) OnResult(average fetcher.Average, label1, label2 string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endCountdown()
	if !c.header {
		fmt.Fprintf(c.w, "%-30s %-30s Avg Price (%s)\n", "Mod 1", "Mod 2", c.currency)
		c.header = true
	}
	fmt.Fprintf(c.w, "%-30s %-30s %s\n", label1, label2, average)
}

func (c *Console) OnStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endCountdown()
	fmt.Fprintf(c.w, "# %s\n", text)
}

func (c *Console) OnDebug(string) {}

func (c *Console) OnCountdown(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, "\rWaiting: %2ds", remaining)
	c.counting = remaining > 0
	if !c.counting {
		fmt.Fprintln(c.w)
	}
}

// endCountdown terminates a countdown line interrupted by other output
func (c *Console) endCountdown() {
	if c.counting {
		fmt.Fprintln(c.w)
		c.counting = false
	}
}

// Log writes events to a slog logger: results and status at info, debug
// lines and countdown ticks at debug
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log observer; a nil logger means slog.Default()
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) OnResult(average fetcher.Average, label1, label2 string) {
	l.logger.Info("price result", "mod1", label1, "mod2", label2, "average", average.String())
}

func (l *Log) OnStatus(text string) {
	l.logger.Info("status", "text", text)
}

func (l *Log) OnDebug(text string) {
	l.logger.Debug("trade debug", "text", text)
}

func (l *Log) OnCountdown(remaining int) {
	l.logger.Debug("cooldown", "remaining", remaining)
}
