// Package pagination implements the cursor state machine that turns page
// results into follow-up targets.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Strategy names a pagination scheme.
type Strategy string

// Supported strategies.
const (
	StrategyNumbered Strategy = "numbered"
	StrategyScroll   Strategy = "scroll"
	StrategyToken    Strategy = "token"
)

// State of one pagination sequence.
type State int

// Seeking -> Continuing -> Exhausted. A single empty page drops the cursor
// back to Seeking; a second consecutive one exhausts it.
const (
	Seeking State = iota
	Continuing
	Exhausted
)

// Config describes one pagination sequence.
type Config struct {
	Strategy Strategy
	// BaseURL is the seed the sequence grew from; numbered and token targets
	// are synthesized against it.
	BaseURL string
	// Param is the query parameter carrying the page number or token.
	// Defaults: "page" for numbered, "cursor" for token.
	Param      string
	MaxPages   int
	MaxScrolls int
}

// Cursor owns the state of one logical pagination sequence. Emission and
// state transition happen under one lock so retry interleavings can neither
// duplicate nor skip a page.
type Cursor struct {
	mu  sync.Mutex
	cfg Config

	state       State
	page        int
	pagesSeen   int
	emptyStreak int
	emitted     int
	lastHeight  int64
	lastToken   string
}

// New validates the config and returns a cursor in the Seeking state.
func New(cfg Config) (*Cursor, error) {
	switch cfg.Strategy {
	case StrategyNumbered, StrategyScroll, StrategyToken:
	default:
		return nil, fmt.Errorf("unknown pagination strategy %q", cfg.Strategy)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pagination base url is required")
	}
	if cfg.Param == "" {
		if cfg.Strategy == StrategyToken {
			cfg.Param = "cursor"
		} else {
			cfg.Param = "page"
		}
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 10
	}
	return &Cursor{cfg: cfg, page: 1}, nil
}

// Advance consumes the outcome of the page this cursor last targeted and
// returns the next target, if any. A false return means the sequence is
// exhausted.
func (c *Cursor) Advance(out engine.PageOutcome) (engine.Next, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Exhausted {
		return engine.Next{}, false
	}
	c.pagesSeen++

	switch c.cfg.Strategy {
	case StrategyScroll:
		return c.advanceScroll(out)
	case StrategyToken:
		return c.advanceToken(out)
	default:
		return c.advanceNumbered(out)
	}
}

// State returns the current machine state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PagesSeen counts the page results consumed so far.
func (c *Cursor) PagesSeen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pagesSeen
}

// Emitted counts the Continuing transitions, i.e. follow-ups emitted for
// productive pages. Probes after a single empty page are not counted.
func (c *Cursor) Emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}

func (c *Cursor) advanceNumbered(out engine.PageOutcome) (engine.Next, bool) {
	probe := false
	if out.Records > 0 {
		c.emptyStreak = 0
		c.state = Continuing
	} else {
		c.emptyStreak++
		if c.emptyStreak >= 2 {
			c.state = Exhausted
			return engine.Next{}, false
		}
		// One empty page is tolerated: re-probe the next page without
		// counting it as an emission.
		c.state = Seeking
		probe = true
	}

	if c.pagesSeen >= c.cfg.MaxPages {
		c.state = Exhausted
		return engine.Next{}, false
	}

	c.page++
	target, err := pageURL(c.cfg.BaseURL, c.cfg.Param, c.page)
	if err != nil {
		c.state = Exhausted
		return engine.Next{}, false
	}
	if !probe {
		c.emitted++
	}
	return engine.Next{URL: target, Probe: probe}, true
}

func (c *Cursor) advanceScroll(out engine.PageOutcome) (engine.Next, bool) {
	if out.ScrollHeight <= c.lastHeight || c.pagesSeen >= c.cfg.MaxScrolls {
		c.state = Exhausted
		return engine.Next{}, false
	}
	c.lastHeight = out.ScrollHeight
	c.state = Continuing
	c.emitted++
	return engine.Next{URL: c.cfg.BaseURL, ScrollOffset: out.ScrollHeight}, true
}

func (c *Cursor) advanceToken(out engine.PageOutcome) (engine.Next, bool) {
	token := out.NextToken
	if token == "" || token == c.lastToken || c.pagesSeen >= c.cfg.MaxPages {
		c.state = Exhausted
		return engine.Next{}, false
	}
	c.lastToken = token
	target, err := tokenURL(c.cfg.BaseURL, c.cfg.Param, token)
	if err != nil {
		c.state = Exhausted
		return engine.Next{}, false
	}
	c.state = Continuing
	c.emitted++
	return engine.Next{URL: target}, true
}

// pageURL sets the page parameter on the base URL.
func pageURL(base, param string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// tokenURL resolves an opaque continuation token against the base URL. A
// token that already looks like a URL or path is followed directly.
func tokenURL(base, param, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if strings.Contains(token, "://") || strings.HasPrefix(token, "/") {
		ref, err := url.Parse(token)
		if err != nil {
			return "", fmt.Errorf("parse token url: %w", err)
		}
		return u.ResolveReference(ref).String(), nil
	}
	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
