package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"watcherseye/internal/fetcher"
)

// Supported drivers
const (
	DriverJSONL  = "jsonl"
	DriverSQLite = "sqlite"
)

// Store persists price results. Each Append is an independent durable write;
// callers log a failure and carry on.
type Store interface {
	Append(ctx context.Context, result fetcher.PriceResult) error
	ReadAll(ctx context.Context) ([]Record, error)
	Close() error
}

// Record is the persisted form of a PriceResult
type Record struct {
	Attribute1   string    `json:"attribute1_label"`
	Attribute2   *string   `json:"attribute2_label"`
	AveragePrice *float64  `json:"average_price"`
	RunID        string    `json:"run_id,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// NewRecord converts a result, rounding the average to 2 decimal places
func NewRecord(r fetcher.PriceResult) Record {
	rec := Record{
		Attribute1:   r.Label1,
		AveragePrice: r.Average.Rounded().Ptr(),
		FetchedAt:    r.FetchedAt.UTC(),
	}
	if r.Label2 != "" {
		label2 := r.Label2
		rec.Attribute2 = &label2
	}
	if r.RunID != uuid.Nil {
		rec.RunID = r.RunID.String()
	}
	return rec
}

// Options selects and configures a store
type Options struct {
	Driver      string
	ResultsPath string
	SQLitePath  string
}

// Open creates the store named by opts.Driver
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverJSONL:
		return NewJSONLStore(opts.ResultsPath), nil
	case DriverSQLite:
		s, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
