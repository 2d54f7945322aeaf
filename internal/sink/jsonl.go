package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// JSONL appends one JSON object per line to a writer.
type JSONL struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	enc    *json.Encoder
}

// NewJSONL opens (or creates) path in append mode.
func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink %s: %w", path, err)
	}
	s := newJSONLWriter(f)
	s.closer = f
	return s, nil
}

// NewJSONLWriter wraps an existing writer, used by the probe command to
// stream to stdout.
func NewJSONLWriter(w io.Writer) *JSONL {
	return newJSONLWriter(w)
}

func newJSONLWriter(w io.Writer) *JSONL {
	bw := bufio.NewWriter(w)
	return &JSONL{w: bw, enc: json.NewEncoder(bw)}
}

func (s *JSONL) Accept(ctx context.Context, records []engine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enc.Encode(record); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return s.w.Flush()
}

func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
