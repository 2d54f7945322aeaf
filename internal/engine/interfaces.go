package engine

import (
	"context"
	"time"
)

// Fetcher performs one HTTP(S) request. Transport-level failures are returned
// as a *FetchError; HTTP error statuses come back as a normal response for the
// retry policy to classify.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// PageParser extracts records, hyperlinks and a continuation token from a
// fetched document.
type PageParser interface {
	Extract(doc FetchResponse, strategy StrategyTag) (ExtractResult, error)
}

// Sink accepts extracted records. A failing sink is surfaced as a run-level
// warning and never blocks other workers.
type Sink interface {
	Accept(ctx context.Context, records []Record) error
}

// RateController enforces request pacing. Acquire blocks until a request is
// permitted. ReportOutcome feeds the adaptive strategy; throttled marks a
// rate-limiting failure kind.
type RateController interface {
	Acquire(ctx context.Context) error
	ReportOutcome(success, throttled bool)
}

// Rotator supplies a fresh identity per request and tracks per-identity
// health.
type Rotator interface {
	Next() Identity
	ReportSuccess(id Identity)
	ReportFailure(id Identity)
}

// DedupeIndex records normalized URLs already dispatched. FirstSeen performs
// an atomic test-and-insert and reports whether the URL was new.
type DedupeIndex interface {
	FirstSeen(ctx context.Context, url string) (bool, error)
}

// Paginator drives one pagination sequence. Advance consumes a page outcome
// and atomically transitions the cursor, emitting at most one follow-up.
type Paginator interface {
	Advance(out PageOutcome) (Next, bool)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
