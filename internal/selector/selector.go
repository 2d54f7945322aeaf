// Package selector chooses the fetch strategy for a target and decides when
// a static result is too thin and warrants one rendered re-fetch.
package selector

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Default URL shapes that mark an API endpoint.
var defaultAPIPatterns = []string{
	`/api/`,
	`/rest/`,
	`/graphql`,
	`/v[0-9]+/`,
	`\.json$`,
}

// Markers that a page is a client-rendered shell.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Config tunes the selector.
type Config struct {
	// Overrides force a strategy for an exact URL or a bare hostname.
	Overrides map[string]engine.StrategyTag
	// APIPatterns are regexes matched against the URL path; empty uses the
	// defaults.
	APIPatterns []string
	// MinBodyBytes is the size under which a script-heavy body escalates.
	MinBodyBytes int
	// ScriptCoveragePct is the share of the document inside script tags at
	// which the page counts as client-rendered.
	ScriptCoveragePct int
}

// Selector implements the strategy decision function over the closed
// StrategyTag enumeration.
type Selector struct {
	overrides map[string]engine.StrategyTag
	apiRes    []*regexp.Regexp
	minBody   int
	coverPct  int
}

// New compiles the configured patterns, failing fast on bad ones.
func New(cfg Config) (*Selector, error) {
	patterns := cfg.APIPatterns
	if len(patterns) == 0 {
		patterns = defaultAPIPatterns
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile api pattern %q: %w", p, err)
		}
		res = append(res, re)
	}

	minBody := cfg.MinBodyBytes
	if minBody <= 0 {
		minBody = 2048
	}
	coverPct := cfg.ScriptCoveragePct
	if coverPct <= 0 {
		coverPct = 25
	}

	overrides := make(map[string]engine.StrategyTag, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		if !v.Valid() {
			return nil, fmt.Errorf("override for %q names unknown strategy %q", k, v)
		}
		overrides[k] = v
	}

	return &Selector{
		overrides: overrides,
		apiRes:    res,
		minBody:   minBody,
		coverPct:  coverPct,
	}, nil
}

// Select picks the strategy for a URL before any fetch: explicit override,
// then API path heuristics, then the static probe path.
func (s *Selector) Select(rawURL string) engine.StrategyTag {
	if tag, ok := s.overrides[rawURL]; ok {
		return tag
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return engine.StrategyStatic
	}
	if tag, ok := s.overrides[u.Hostname()]; ok {
		return tag
	}

	path := u.Path
	if q := u.Query(); q.Get("format") == "json" {
		return engine.StrategyAPI
	}
	for _, re := range s.apiRes {
		if re.MatchString(path) {
			return engine.StrategyAPI
		}
	}
	return engine.StrategyStatic
}

// Refine upgrades a probe's strategy from its response headers: a JSON or XML
// content type means the document goes down the API extraction path.
func (s *Selector) Refine(tag engine.StrategyTag, resp engine.FetchResponse) engine.StrategyTag {
	if tag != engine.StrategyStatic || resp.Headers == nil {
		return tag
	}
	ct := strings.ToLower(resp.Headers.Get("Content-Type"))
	if strings.Contains(ct, "application/json") || strings.Contains(ct, "application/xml") {
		return engine.StrategyAPI
	}
	return tag
}

// ShouldEscalate reports whether a static fetch came back too empty to
// extract from, so the dispatcher should re-fetch once through the rendered
// engine. Escalation is attempted at most once per work item; that cap lives
// in the dispatcher.
func (s *Selector) ShouldEscalate(resp engine.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < s.minBody && s.scriptCoverageHigh(body)
}

// scriptCoverageHigh measures how much of the document sits inside script
// tags. An unclosed tag counts to the end of the document.
func (s *Selector) scriptCoverageHigh(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	open := []byte("<script")
	closing := []byte("</script>")
	covered := 0
	pos := 0
	for {
		i := bytes.Index(lower[pos:], open)
		if i < 0 {
			break
		}
		start := pos + i
		j := bytes.Index(lower[start:], closing)
		if j < 0 {
			covered += total - start
			break
		}
		end := start + j + len(closing)
		covered += end - start
		pos = end
	}

	return covered*100/total >= s.coverPct
}
