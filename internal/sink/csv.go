package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// CSV writes records as rows. The header is fixed on the first Accept from
// the sorted keys of the first record; later records contribute only the
// columns the header names.
type CSV struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	header []string
}

// NewCSV opens (or creates) path in append mode.
func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv sink %s: %w", path, err)
	}
	return &CSV{w: csv.NewWriter(f), closer: f}, nil
}

// NewCSVWriter wraps an existing writer.
func NewCSVWriter(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

func (s *CSV) Accept(ctx context.Context, records []engine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.header == nil {
			s.header = headerFor(record)
			if err := s.w.Write(s.header); err != nil {
				return fmt.Errorf("write csv header: %w", err)
			}
		}
		row := make([]string, len(s.header))
		for i, col := range s.header {
			if v, ok := record[col]; ok {
				row[i] = fmt.Sprint(v)
			}
		}
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func headerFor(record engine.Record) []string {
	cols := make([]string, 0, len(record))
	for k := range record {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
