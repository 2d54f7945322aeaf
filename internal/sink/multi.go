package sink

import (
	"context"
	"errors"
	"io"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Multi fans records out to several sinks. Every sink sees every batch;
// failures are joined so one broken destination does not hide the others.
type Multi struct {
	sinks []engine.Sink
}

func NewMulti(sinks ...engine.Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Accept(ctx context.Context, records []engine.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Accept(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
