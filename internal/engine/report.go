package engine

import (
	"sync"
	"time"
)

// RunReport collects terminal outcomes for one run, keyed by failure
// taxonomy. All methods are safe for concurrent use by workers.
type RunReport struct {
	mu sync.Mutex

	runID   string
	started time.Time

	succeeded        int
	retries          int
	failures         map[FailureKind]int
	failedURLs       []FailedItem
	blockedURLs      []string
	extractionErrors int
	sinkErrors       int
}

// FailedItem records one terminally failed work item.
type FailedItem struct {
	URL   string      `json:"url"`
	Kind  FailureKind `json:"kind"`
	Error string      `json:"error,omitempty"`
}

// ReportSnapshot is an immutable copy of the report, served by the status API
// and printed at the end of a run.
type ReportSnapshot struct {
	RunID            string              `json:"run_id"`
	Started          time.Time           `json:"started_at"`
	Succeeded        int                 `json:"succeeded"`
	Retries          int                 `json:"retries"`
	Failures         map[FailureKind]int `json:"failures"`
	FailedItems      []FailedItem        `json:"failed_items,omitempty"`
	Blocked          []string            `json:"blocked,omitempty"`
	ExtractionErrors int                 `json:"extraction_errors"`
	SinkErrors       int                 `json:"sink_errors"`
}

// NewRunReport creates an empty report for the given run.
func NewRunReport(runID string, started time.Time) *RunReport {
	return &RunReport{
		runID:    runID,
		started:  started,
		failures: make(map[FailureKind]int),
	}
}

// AddSuccess counts a terminally succeeded work item.
func (r *RunReport) AddSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded++
}

// AddRetry counts one scheduled retry.
func (r *RunReport) AddRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// AddFailure records a terminal failure under its taxonomy kind.
func (r *RunReport) AddFailure(url string, kind FailureKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[kind]++
	item := FailedItem{URL: url, Kind: kind}
	if err != nil {
		item.Error = err.Error()
	}
	r.failedURLs = append(r.failedURLs, item)
}

// AddBlocked records a captcha/hard-block so operators can follow up.
func (r *RunReport) AddBlocked(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[FailBlocked]++
	r.blockedURLs = append(r.blockedURLs, url)
}

// AddExtractionError counts a parser failure on a fetched document.
func (r *RunReport) AddExtractionError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractionErrors++
	r.failures[FailParse]++
}

// AddSinkError counts an export failure.
func (r *RunReport) AddSinkError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinkErrors++
	r.failures[FailSink]++
}

// Succeeded returns the number of terminally succeeded items.
func (r *RunReport) Succeeded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.succeeded
}

// Snapshot copies the current counters.
func (r *RunReport) Snapshot() ReportSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	failures := make(map[FailureKind]int, len(r.failures))
	for k, v := range r.failures {
		failures[k] = v
	}
	return ReportSnapshot{
		RunID:            r.runID,
		Started:          r.started,
		Succeeded:        r.succeeded,
		Retries:          r.retries,
		Failures:         failures,
		FailedItems:      append([]FailedItem(nil), r.failedURLs...),
		Blocked:          append([]string(nil), r.blockedURLs...),
		ExtractionErrors: r.extractionErrors,
		SinkErrors:       r.sinkErrors,
	}
}
