// Package engine defines the core types and capability interfaces shared by
// the fetch orchestration subsystems.
package engine

import (
	"net/http"
	"time"
)

// StrategyTag identifies the fetch technique chosen for a work item.
type StrategyTag string

// The closed set of fetch strategies.
const (
	StrategyStatic   StrategyTag = "static"
	StrategyRendered StrategyTag = "rendered"
	StrategyAPI      StrategyTag = "api"
)

// Valid reports whether the tag is one of the known strategies.
func (t StrategyTag) Valid() bool {
	switch t {
	case StrategyStatic, StrategyRendered, StrategyAPI:
		return true
	}
	return false
}

// Identity is the (proxy, user-agent) pair presented to the target server.
// Proxy is empty for direct connections.
type Identity struct {
	Proxy     string
	UserAgent string
}

// WorkItem is one URL-fetch task flowing through the dispatcher. Attempt is
// incremented by the retry path; everything else is set when the item is
// created, either from a seed or from a pagination follow-up.
type WorkItem struct {
	URL          string
	Depth        int
	Strategy     StrategyTag // hint; empty means the selector decides
	Attempt      int
	Escalated    bool
	ScrollOffset int64
	Cursor       Paginator
}

// FetchRequest captures everything a Fetcher needs for one attempt.
type FetchRequest struct {
	URL          string
	Identity     Identity
	Strategy     StrategyTag
	Timeout      time.Duration
	Headers      http.Header
	ScrollOffset int64
}

// FetchResponse is the successful result of a fetch attempt. Non-2xx HTTP
// statuses are still responses; transport-level failures are returned as a
// *FetchError instead.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Elapsed      time.Duration
	Strategy     StrategyTag
	ScrollHeight int64
}

// Record is one extracted item heading to the sink.
type Record map[string]any

// ExtractResult is what a PageParser pulls out of a fetched document.
type ExtractResult struct {
	Records   []Record
	Links     []string
	NextToken string
}

// PageOutcome summarizes one fetched page for a pagination cursor.
type PageOutcome struct {
	URL          string
	Records      int
	NextToken    string
	ScrollHeight int64
}

// Next is the follow-up target emitted by a pagination cursor. Probe marks a
// re-probe issued after a single empty page; it is not counted as a regular
// emission.
type Next struct {
	URL          string
	ScrollOffset int64
	Probe        bool
}
