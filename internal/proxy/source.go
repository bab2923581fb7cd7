package proxy

import (
	"bufio"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"watcherseye/internal/fetcher"
)

// Source downloads a newline-delimited relay list
type Source struct {
	url    string
	client *resty.Client
}

// NewSource creates a relay source for listURL. An empty listURL disables
// relays: Load always returns an empty pool.
func NewSource(listURL, userAgent string, timeout time.Duration) *Source {
	return &Source{
		url: listURL,
		client: fetcher.NewHTTPClient(fetcher.ClientOptions{
			UserAgent: userAgent,
			Timeout:   timeout,
		}),
	}
}

// Load fetches the list and returns a fresh pool. Any failure degrades to an
// empty pool, which means direct connections.
func (s *Source) Load(ctx context.Context) *Pool {
	if s.url == "" {
		return NewPool(nil)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/plain").
		Get(s.url)
	if err != nil {
		slog.Warn("failed to load relay list", "url", s.url, "error", err)
		return NewPool(nil)
	}

	if !resp.IsSuccess() {
		slog.Warn("relay list returned non-success status", "url", s.url, "status_code", resp.StatusCode())
		return NewPool(nil)
	}

	pool := NewPool(ParseList(resp.String()))
	slog.Info("loaded relay list", "url", s.url, "relays", pool.Len())
	return pool
}

// ParseList splits a newline-delimited list, trimming whitespace, dropping
// blank lines and duplicates while keeping first-seen order
func ParseList(text string) []string {
	seen := make(map[string]struct{})
	var out []string

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 4096), len(text)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("relay list parsing stopped early", "parsed", len(out), "error", err)
	}
	return out
}

// Pool round-robins through relay addresses in insertion order
type Pool struct {
	mu     sync.Mutex
	relays []string
	next   int
}

// NewPool creates a pool over addrs. Duplicates are dropped.
func NewPool(addrs []string) *Pool {
	return &Pool{relays: ParseList(strings.Join(addrs, "\n"))}
}

// Len returns the number of distinct relays
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.relays)
}

// Next returns the next relay as a proxy URL, wrapping at the end.
// It returns false when the pool is empty.
func (p *Pool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.relays) == 0 {
		return "", false
	}
	addr := p.relays[p.next]
	p.next = (p.next + 1) % len(p.relays)
	return relayURL(addr), true
}

// relayURL adds the http scheme to bare host:port entries
func relayURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}
