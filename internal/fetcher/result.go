package fetcher

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Label2Placeholder stands in for the missing second label of single-attribute results
const Label2Placeholder = "-"

// Average is the outcome of a price query: either a mean magnitude or NoData.
// The zero value is NoData.
type Average struct {
	value float64
	ok    bool
}

// NoData returns the "no data" outcome
func NoData() Average {
	return Average{}
}

// Of wraps a known average
func Of(v float64) Average {
	return Average{value: v, ok: true}
}

// Mean returns the arithmetic mean of values, or NoData when values is empty
func Mean(values []float64) Average {
	if len(values) == 0 {
		return NoData()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return Of(sum / float64(len(values)))
}

// Valid reports whether the outcome carries a value
func (a Average) Valid() bool {
	return a.ok
}

// Value returns the average and whether it is present
func (a Average) Value() (float64, bool) {
	return a.value, a.ok
}

// Rounded returns the average rounded half away from zero to 2 decimal places
func (a Average) Rounded() Average {
	if !a.ok {
		return a
	}
	return Of(decimal.NewFromFloat(a.value).Round(2).InexactFloat64())
}

// Ptr returns a pointer to the value, or nil for NoData. Useful for JSON null.
func (a Average) Ptr() *float64 {
	if !a.ok {
		return nil
	}
	v := a.value
	return &v
}

// String renders the average with 2 decimals, or "N/A"
func (a Average) String() string {
	if !a.ok {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", a.value)
}

// PriceResult is the immutable record produced for one processed query key.
// It is emitted to observers and appended to the result log.
type PriceResult struct {
	// RunID identifies the fetch run that produced the result
	RunID uuid.UUID

	// Label1 is the label of the first attribute
	Label1 string

	// Label2 is the label of the second attribute, empty for single-attribute keys
	Label2 string

	// Average is the mean listed price in the target currency, or NoData
	Average Average

	// FetchedAt is when the query completed
	FetchedAt time.Time
}

// Label2OrPlaceholder returns Label2, or Label2Placeholder when it is empty
func (r PriceResult) Label2OrPlaceholder() string {
	if r.Label2 == "" {
		return Label2Placeholder
	}
	return r.Label2
}
