package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"watcherseye/internal/fetcher"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS price_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT,
	attribute1_label TEXT NOT NULL,
	attribute2_label TEXT,
	average_price REAL,
	fetched_at DATETIME NOT NULL
);
`

// SQLiteStore keeps results in a SQLite table. Each Append is its own
// autocommitted insert.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts one row
func (s *SQLiteStore) Append(ctx context.Context, result fetcher.PriceResult) error {
	rec := NewRecord(result)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_results (run_id, attribute1_label, attribute2_label, average_price, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Attribute1, rec.Attribute2, rec.AveragePrice, rec.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// ReadAll returns every row in insertion order
func (s *SQLiteStore) ReadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, attribute1_label, attribute2_label, average_price, fetched_at FROM price_results ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			runID     sql.NullString
			label2    sql.NullString
			average   sql.NullFloat64
			fetchedAt time.Time
		)
		if err := rows.Scan(&runID, &rec.Attribute1, &label2, &average, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		rec.RunID = runID.String
		rec.FetchedAt = fetchedAt
		if label2.Valid {
			rec.Attribute2 = &label2.String
		}
		if average.Valid {
			rec.AveragePrice = &average.Float64
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
