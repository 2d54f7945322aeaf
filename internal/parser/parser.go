// Package parser turns fetched documents into records, outbound links and
// pagination tokens. HTML documents go through goquery with configured CSS
// selectors; API responses are decoded as JSON.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Config maps a site's markup onto extraction selectors.
type Config struct {
	// RecordSelector matches one element per record.
	RecordSelector string
	// Fields maps record field names to CSS selectors scoped inside a
	// record element. A selector of the form "sel@attr" reads an
	// attribute instead of the text content.
	Fields map[string]string
	// NextSelector locates the next-page link. Defaults to rel=next.
	NextSelector string
	// FollowLinks controls whether anchor hrefs are collected for the
	// frontier.
	FollowLinks bool
	// MaxLinks caps collected links per document; zero means unbounded.
	MaxLinks int
}

// Parser implements engine.PageParser.
type Parser struct {
	cfg Config
}

// New builds a Parser. An empty RecordSelector yields link-only extraction
// for HTML documents.
func New(cfg Config) *Parser {
	if cfg.NextSelector == "" {
		cfg.NextSelector = `a[rel="next"], link[rel="next"]`
	}
	return &Parser{cfg: cfg}
}

// Extract dispatches on the fetch strategy: API bodies decode as JSON,
// everything else parses as HTML.
func (p *Parser) Extract(doc engine.FetchResponse, strategy engine.StrategyTag) (engine.ExtractResult, error) {
	if strategy == engine.StrategyAPI {
		return p.extractJSON(doc)
	}
	return p.extractHTML(doc)
}

func (p *Parser) extractHTML(doc engine.FetchResponse) (engine.ExtractResult, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return engine.ExtractResult{}, engine.NewFetchError(engine.FailParse, fmt.Errorf("parse html from %s: %w", doc.URL, err))
	}
	base, err := url.Parse(doc.URL)
	if err != nil {
		return engine.ExtractResult{}, engine.NewFetchError(engine.FailParse, fmt.Errorf("parse document url %q: %w", doc.URL, err))
	}

	result := engine.ExtractResult{}
	if p.cfg.RecordSelector != "" {
		root.Find(p.cfg.RecordSelector).Each(func(_ int, sel *goquery.Selection) {
			record := p.extractRecord(sel)
			if len(record) > 0 {
				result.Records = append(result.Records, record)
			}
		})
	}
	if p.cfg.FollowLinks {
		result.Links = p.collectLinks(root, base)
	}
	result.NextToken = p.nextToken(root, base)
	return result, nil
}

func (p *Parser) extractRecord(sel *goquery.Selection) engine.Record {
	record := engine.Record{}
	if len(p.cfg.Fields) == 0 {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			record["text"] = text
		}
		return record
	}
	for name, fieldSel := range p.cfg.Fields {
		selector, attr := splitAttrSelector(fieldSel)
		target := sel
		if selector != "" {
			target = sel.Find(selector).First()
		}
		if target.Length() == 0 {
			continue
		}
		if attr != "" {
			if val, ok := target.Attr(attr); ok {
				record[name] = strings.TrimSpace(val)
			}
			continue
		}
		if text := strings.TrimSpace(target.Text()); text != "" {
			record[name] = text
		}
	}
	return record
}

func (p *Parser) collectLinks(root *goquery.Document, base *url.URL) []string {
	seen := map[string]struct{}{}
	var links []string
	root.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		abs := absolutize(base, href)
		if abs == "" {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
		return p.cfg.MaxLinks == 0 || len(links) < p.cfg.MaxLinks
	})
	return links
}

func (p *Parser) nextToken(root *goquery.Document, base *url.URL) string {
	next := root.Find(p.cfg.NextSelector).First()
	if next.Length() == 0 {
		return ""
	}
	if token, ok := next.Attr("data-next-token"); ok && token != "" {
		return token
	}
	if href, ok := next.Attr("href"); ok {
		return absolutize(base, href)
	}
	return ""
}

// extractJSON handles the common API response shapes: a top-level array of
// objects, or an envelope whose items live under items, data or results.
func (p *Parser) extractJSON(doc engine.FetchResponse) (engine.ExtractResult, error) {
	var payload any
	if err := json.Unmarshal(doc.Body, &payload); err != nil {
		return engine.ExtractResult{}, engine.NewFetchError(engine.FailParse, fmt.Errorf("decode json from %s: %w", doc.URL, err))
	}

	result := engine.ExtractResult{}
	switch body := payload.(type) {
	case []any:
		result.Records = jsonRecords(body)
	case map[string]any:
		for _, key := range []string{"items", "data", "results"} {
			if items, ok := body[key].([]any); ok {
				result.Records = jsonRecords(items)
				break
			}
		}
		if result.Records == nil {
			// No recognized envelope; treat the object itself as one record.
			result.Records = []engine.Record{engine.Record(body)}
		}
		result.NextToken = jsonNextToken(body)
	default:
		return engine.ExtractResult{}, engine.NewFetchError(engine.FailParse, fmt.Errorf("unexpected json root %T from %s", payload, doc.URL))
	}
	return result, nil
}

func jsonRecords(items []any) []engine.Record {
	records := make([]engine.Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, engine.Record(obj))
		}
	}
	return records
}

func jsonNextToken(body map[string]any) string {
	for _, key := range []string{"next", "next_page", "next_cursor", "cursor"} {
		switch v := body[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%g", v)
		}
	}
	if paging, ok := body["paging"].(map[string]any); ok {
		if next, ok := paging["next"].(string); ok {
			return next
		}
	}
	return ""
}

// splitAttrSelector splits "a@href" into its selector and attribute parts.
func splitAttrSelector(s string) (selector, attr string) {
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(s), ""
}

func absolutize(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
