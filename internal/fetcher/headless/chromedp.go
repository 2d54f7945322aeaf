// Package headless implements the rendered Fetcher on a headless Chrome
// driven by chromedp. It also reports the document scroll height so the
// scroll pagination strategy can tell when a page stops growing.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Config controls the rendered fetcher.
type Config struct {
	// MaxParallel bounds concurrent browser tabs; zero means unbounded.
	MaxParallel int
	// NavigationTimeout caps one navigate-and-settle cycle.
	NavigationTimeout time.Duration
	// SettleDelay waits for late client-side rendering after body-ready.
	SettleDelay time.Duration
	// Proxy routes the whole browser through one endpoint. Chrome pins the
	// proxy per process, so rendered fetches cannot rotate it per request.
	Proxy string
}

// Fetcher implements engine.Fetcher with a shared Chrome allocator.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts the exec allocator. Callers must Close it.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}

	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close tears down the browser allocator.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates, optionally scrolls to the requested offset, and returns
// the rendered DOM plus the document scroll height.
func (f *Fetcher) Fetch(ctx context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return engine.FetchResponse{}, engine.NewFetchError(engine.FailCanceled, err)
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Propagate run-level cancellation into the browser task.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := &docMeta{}
	chromedp.ListenTarget(taskCtx, meta.onEvent)

	start := time.Now()
	var (
		html         string
		finalURL     string
		scrollHeight int64
	)
	actions := []chromedp.Action{
		f.setupAction(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if req.ScrollOffset > 0 {
		actions = append(actions,
			chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", req.ScrollOffset), nil),
		)
	}
	actions = append(actions,
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Evaluate("document.body.scrollHeight", &scrollHeight),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return engine.FetchResponse{}, engine.ClassifyError(fmt.Errorf("chromedp run: %w", err), f.cfg.Proxy != "")
	}

	status, headers, docURL := meta.snapshot()
	if docURL == "" {
		docURL = finalURL
	}
	if docURL == "" {
		docURL = req.URL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}

	return engine.FetchResponse{
		URL:          docURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Elapsed:      time.Since(start),
		Strategy:     engine.StrategyRendered,
		ScrollHeight: scrollHeight,
	}, nil
}

func (f *Fetcher) setupAction(req engine.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := req.Identity.UserAgent; ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(req.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(req.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

// docMeta captures status and headers of the main document response from
// CDP network events.
type docMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *docMeta) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *docMeta) snapshot() (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.headers, m.url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
