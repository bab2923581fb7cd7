package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"watcherseye/internal/catalog"
	"watcherseye/internal/fetcher"
)

// MaxFetchIDs caps how many listings are fetched per query key
const MaxFetchIDs = 5

// Options configures a Client
type Options struct {
	BaseURL          string
	League           string
	UserAgent        string
	Currency         string
	MinItemLevel     int
	ExcludeCorrupted bool
	Timeout          time.Duration
	RetryCount       int
}

// Client runs the two-phase trade protocol: search for a query key, then fetch
// the cheapest listings and average their prices.
type Client struct {
	opts    Options
	catalog *catalog.Catalog

	mu      sync.Mutex
	clients map[string]*resty.Client // keyed by relay, "" is direct
}

// New creates a trade client. Labels from cat are used in diagnostics.
func New(cat *catalog.Catalog, opts Options) *Client {
	return &Client{
		opts:    opts,
		catalog: cat,
		clients: make(map[string]*resty.Client),
	}
}

// httpClient returns the resty client bound to relay, creating it on first use
func (c *Client) httpClient(relay string) *resty.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[relay]; ok {
		return client
	}

	client := fetcher.NewHTTPClient(fetcher.ClientOptions{
		BaseURL:    c.opts.BaseURL,
		UserAgent:  c.opts.UserAgent,
		Timeout:    c.opts.Timeout,
		RetryCount: c.opts.RetryCount,
	})
	if relay != "" {
		client.SetProxy(relay)
	}
	c.clients[relay] = client
	return client
}

// Close releases the underlying HTTP clients
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for relay, client := range c.clients {
		client.Close()
		delete(c.clients, relay)
	}
	return nil
}

// FetchAverage implements fetcher.Querier
func (c *Client) FetchAverage(ctx context.Context, key catalog.QueryKey, relay string) (fetcher.Average, []string) {
	var diags []string
	label := c.catalog.KeyLabel(key)
	client := c.httpClient(relay)

	search, err := c.search(ctx, client, key, label, &diags)
	if err != nil {
		slog.Debug("trade search failed", "key", label, "relay", relay, "error", err)
		return fetcher.NoData(), append(diags, diagnostic("Search", err))
	}

	if len(search.Result) == 0 {
		return fetcher.NoData(), append(diags, fmt.Sprintf("No listings: %s", label))
	}

	ids := search.Result
	if len(ids) > MaxFetchIDs {
		ids = ids[:MaxFetchIDs]
	}

	entries, err := c.fetch(ctx, client, ids, search.ID, &diags)
	if err != nil {
		slog.Debug("trade fetch failed", "key", label, "relay", relay, "error", err)
		return fetcher.NoData(), append(diags, diagnostic("Fetch", err))
	}

	prices, skipped := ExtractPrices(entries, c.opts.Currency)
	if skipped > 0 {
		diags = append(diags, fmt.Sprintf("Skipped %d malformed listing(s): %s", skipped, label))
	}
	if len(prices) == 0 {
		diags = append(diags, fmt.Sprintf("No %s listings: %s", c.opts.Currency, label))
	}

	return fetcher.Mean(prices), diags
}

func (c *Client) search(ctx context.Context, client *resty.Client, key catalog.QueryKey, label string, diags *[]string) (*SearchResponse, error) {
	body := c.BuildSearch(key)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fetcher.NewValidationError("failed to encode search", err)
	}
	*diags = append(*diags, fmt.Sprintf("[SEARCH] %s\n%s", label, payload))

	resp, err := client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/search/" + url.PathEscape(c.opts.League))
	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	var result SearchResponse
	if err := decode(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) fetch(ctx context.Context, client *resty.Client, ids []string, queryID string, diags *[]string) ([]json.RawMessage, error) {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	path := "/fetch/" + strings.Join(escaped, ",")
	*diags = append(*diags, fmt.Sprintf("[FETCH] %s%s?query=%s", c.opts.BaseURL, path, queryID))

	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam("query", queryID).
		Get(path)
	if err != nil {
		return nil, fetcher.ClassifyTransportError(err)
	}

	var result FetchResponse
	if err := decode(resp, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// decode validates status and content type, then unmarshals the JSON body
func decode(resp *resty.Response, target any) error {
	if fe := fetcher.ClassifyResponse(resp.StatusCode(), resp.Header().Get("Content-Type")); fe != nil {
		fe.Message = fmt.Sprintf("%s: %s", fe.Message, truncate(resp.String(), 200))
		return fe
	}
	if err := json.Unmarshal([]byte(resp.String()), target); err != nil {
		return fetcher.NewValidationError("malformed JSON", err)
	}
	return nil
}

// diagnostic renders a failed step for the debug channel. HTTP failures carry
// their status code, anything else is reported as an exception.
func diagnostic(step string, err error) string {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) && fe.StatusCode > 0 {
		return fmt.Sprintf("%s Error: %d: %s", step, fe.StatusCode, fe.Message)
	}
	return fmt.Sprintf("Exception: %s: %v", strings.ToLower(step), err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
