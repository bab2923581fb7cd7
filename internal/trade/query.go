package trade

import (
	"encoding/json"

	"watcherseye/internal/catalog"
)

// SearchRequest is the body of POST /search/{league}
type SearchRequest struct {
	Query Query             `json:"query"`
	Sort  map[string]string `json:"sort"`
}

// Query holds the filters of a search
type Query struct {
	Status  Option      `json:"status"`
	Stats   []StatGroup `json:"stats"`
	Filters *Filters    `json:"filters,omitempty"`
}

// Option is the {"option": ...} shape used by several trade filters
type Option struct {
	Option string `json:"option"`
}

// StatGroup combines stat filters; Type "and" requires all of them
type StatGroup struct {
	Type    string       `json:"type"`
	Filters []StatFilter `json:"filters"`
}

// StatFilter requires one attribute to be present on the item
type StatFilter struct {
	ID       string `json:"id"`
	Disabled bool   `json:"disabled"`
}

// Filters holds the auxiliary filter groups
type Filters struct {
	MiscFilters  *MiscFilters  `json:"misc_filters,omitempty"`
	TradeFilters *TradeFilters `json:"trade_filters,omitempty"`
}

// MiscFilters restricts item level and corruption
type MiscFilters struct {
	Disabled bool          `json:"disabled"`
	Filters  MiscFilterSet `json:"filters"`
}

// MiscFilterSet holds the individual misc filters
type MiscFilterSet struct {
	Corrupted *Option    `json:"corrupted,omitempty"`
	ItemLevel *MinFilter `json:"ilvl,omitempty"`
}

// MinFilter is a lower bound
type MinFilter struct {
	Min int `json:"min"`
}

// TradeFilters restricts listing terms
type TradeFilters struct {
	Disabled bool           `json:"disabled"`
	Filters  TradeFilterSet `json:"filters"`
}

// TradeFilterSet holds the individual trade filters
type TradeFilterSet struct {
	Price Option `json:"price"`
}

// SearchResponse is the reply to a search
type SearchResponse struct {
	ID     string   `json:"id"`
	Result []string `json:"result"`
	Total  int      `json:"total"`
}

// FetchResponse is the reply to a fetch-by-ids call. Entries are decoded one by
// one so a malformed listing does not spoil its siblings.
type FetchResponse struct {
	Result []json.RawMessage `json:"result"`
}

type listingEntry struct {
	Listing *struct {
		Price *struct {
			Currency *string  `json:"currency"`
			Amount   *float64 `json:"amount"`
		} `json:"price"`
	} `json:"listing"`
}

// BuildSearch composes the search body for key. Item level and corruption
// filters apply to single-attribute keys only; every key is restricted to
// listings priced in the target currency and sorted by ascending price.
func (c *Client) BuildSearch(key catalog.QueryKey) SearchRequest {
	stats := make([]StatFilter, 0, 2)
	for _, id := range key.IDs() {
		stats = append(stats, StatFilter{ID: string(id), Disabled: false})
	}

	filters := &Filters{
		TradeFilters: &TradeFilters{
			Filters: TradeFilterSet{Price: Option{Option: c.opts.Currency}},
		},
	}

	if !key.IsPair() && (c.opts.MinItemLevel > 0 || c.opts.ExcludeCorrupted) {
		misc := &MiscFilters{}
		if c.opts.ExcludeCorrupted {
			misc.Filters.Corrupted = &Option{Option: "false"}
		}
		if c.opts.MinItemLevel > 0 {
			misc.Filters.ItemLevel = &MinFilter{Min: c.opts.MinItemLevel}
		}
		filters.MiscFilters = misc
	}

	return SearchRequest{
		Query: Query{
			Status:  Option{Option: "online"},
			Stats:   []StatGroup{{Type: "and", Filters: stats}},
			Filters: filters,
		},
		Sort: map[string]string{"price": "asc"},
	}
}

// ExtractPrices returns the amounts of entries priced in currency.
// Entries without a well-formed listing.price are skipped.
func ExtractPrices(entries []json.RawMessage, currency string) (prices []float64, skipped int) {
	for _, raw := range entries {
		var entry listingEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			skipped++
			continue
		}
		if entry.Listing == nil || entry.Listing.Price == nil ||
			entry.Listing.Price.Currency == nil || entry.Listing.Price.Amount == nil {
			skipped++
			continue
		}
		if *entry.Listing.Price.Currency != currency {
			continue
		}
		if amount := *entry.Listing.Price.Amount; amount >= 0 {
			prices = append(prices, amount)
		} else {
			skipped++
		}
	}
	return prices, skipped
}
