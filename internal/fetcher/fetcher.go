package fetcher

import (
	"context"

	"watcherseye/internal/catalog"
)

// Querier is the core interface of the trade pipeline. Implementations run the
// search-then-fetch protocol for one query key and reduce the listings to an
// average price in the target currency.
type Querier interface {
	// FetchAverage returns the average listed price for key, or NoData.
	// Failures never surface as errors: they are downgraded to NoData and
	// described in the returned diagnostics so callers can tell
	// "no listings" apart from "request failed".
	// relay is an optional upstream proxy address; empty means direct.
	FetchAverage(ctx context.Context, key catalog.QueryKey, relay string) (Average, []string)
}
