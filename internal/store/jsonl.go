package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"watcherseye/internal/fetcher"
)

// JSONLStore appends one JSON object per line. Every Append opens the file in
// append mode, writes a single line, syncs and closes it, so a partial log is
// always parseable up to its last complete line and other runs may append to
// the same file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLStore creates a store writing to path. The file is created on the
// first Append.
func NewJSONLStore(path string) *JSONLStore {
	return &JSONLStore{path: path}
}

// Path returns the log file path
func (s *JSONLStore) Path() string {
	return s.path
}

// Append writes result as one line
func (s *JSONLStore) Append(ctx context.Context, result fetcher.PriceResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(NewRecord(result))
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	return f.Close()
}

// ReadAll reads every complete record. Lines that do not parse, such as a
// torn final line, are skipped. A missing file yields no records.
func (s *JSONLStore) ReadAll(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return records, nil
}

// Close is a no-op; the file is not held open between appends
func (s *JSONLStore) Close() error {
	return nil
}
