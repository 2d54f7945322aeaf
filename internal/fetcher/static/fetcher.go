// Package static implements the fast-path Fetcher on top of gocolly.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Config controls collector behavior.
type Config struct {
	RespectRobots bool
	// ExtraHeaders are applied to every request, after the identity's
	// user-agent. The API fetcher uses this for its Accept header.
	ExtraHeaders http.Header
	// MaxBodyBytes caps the response body; zero means colly's default.
	MaxBodyBytes int
}

// Fetcher performs single HTTP GETs with a per-request identity. Each fetch
// clones the base collector, so proxy and user-agent can differ per attempt.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes one GET. Non-2xx statuses come back as a response for the
// retry policy; transport failures are returned as a typed *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
	collector := f.base.Clone()
	collector.IgnoreRobotsTxt = f.base.IgnoreRobotsTxt
	if req.Identity.UserAgent != "" {
		collector.UserAgent = req.Identity.UserAgent
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	transport, err := f.transportFor(req.Identity)
	if err != nil {
		return engine.FetchResponse{}, engine.NewFetchError(engine.FailProxy, err)
	}
	collector.WithTransport(transport)

	var (
		result   engine.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.ExtraHeaders {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = f.toResponse(r, req.Strategy, start)
	})
	collector.OnError(func(r *colly.Response, err error) {
		// colly routes HTTP error statuses here; they are still responses.
		if r != nil && r.StatusCode > 0 {
			result = f.toResponse(r, req.Strategy, start)
			return
		}
		fetchErr = err
	})

	if err := f.visit(ctx, collector, req.URL); err != nil {
		fetchErr = err
	}

	switch {
	case result.StatusCode > 0:
		return result, nil
	case fetchErr != nil:
		return engine.FetchResponse{}, engine.ClassifyError(fetchErr, req.Identity.Proxy != "")
	default:
		return engine.FetchResponse{}, engine.NewFetchError(engine.FailNetwork, fmt.Errorf("no response for %s", req.URL))
	}
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (f *Fetcher) toResponse(r *colly.Response, strategy engine.StrategyTag, start time.Time) engine.FetchResponse {
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return engine.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Elapsed:    time.Since(start),
		Strategy:   strategy,
	}
}

// transportFor builds a pooled transport routing through the identity's
// proxy, or the environment proxy when the identity has none.
func (f *Fetcher) transportFor(id engine.Identity) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if id.Proxy != "" {
		proxyURL, err := url.Parse(id.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", id.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return transport, nil
}
