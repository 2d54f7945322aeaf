package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

const insertRecordSQL = `INSERT INTO scraped_records (run_id, source_url, payload, collected_at) VALUES ($1, $2, $3, $4)`

// PgxIface is the slice of the pgx pool the sink uses, so tests can swap in
// pgxmock.
type PgxIface interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Postgres batches records into a scraped_records table.
type Postgres struct {
	pool  PgxIface
	runID string
}

// NewPostgres connects a pool against dsn.
func NewPostgres(ctx context.Context, dsn, runID string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres sink: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres sink: %w", err)
	}
	return &Postgres{pool: pool, runID: runID}, nil
}

// NewPostgresWithPool wires an existing pool, used in tests.
func NewPostgresWithPool(pool PgxIface, runID string) *Postgres {
	return &Postgres{pool: pool, runID: runID}
}

func (s *Postgres) Accept(ctx context.Context, records []engine.Record) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record payload: %w", err)
		}
		sourceURL, _ := record["_source_url"].(string)
		batch.Queue(insertRecordSQL, s.runID, sourceURL, payload, now)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
