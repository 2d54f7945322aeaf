package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skimmer-dev/skimmer/internal/dedupe"
	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/identity"
	"github.com/skimmer-dev/skimmer/internal/pagination"
	"github.com/skimmer-dev/skimmer/internal/ratelimit"
	"github.com/skimmer-dev/skimmer/internal/retry"
	"github.com/skimmer-dev/skimmer/internal/selector"
	"github.com/skimmer-dev/skimmer/internal/sink"
)

type fetchFunc func(ctx context.Context, req engine.FetchRequest) (engine.FetchResponse, error)

func (f fetchFunc) Fetch(ctx context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
	return f(ctx, req)
}

// stubParser returns a fixed number of records per document.
type stubParser struct {
	records   int
	nextToken string
}

func (p stubParser) Extract(doc engine.FetchResponse, _ engine.StrategyTag) (engine.ExtractResult, error) {
	records := make([]engine.Record, p.records)
	for i := range records {
		records[i] = engine.Record{"url": doc.URL, "n": i}
	}
	return engine.ExtractResult{Records: records, NextToken: p.nextToken}, nil
}

func okResponse(url string) engine.FetchResponse {
	return engine.FetchResponse{
		URL:        url,
		StatusCode: 200,
		Body:       []byte("<html><body><p>plenty of content here</p></body></html>"),
		Strategy:   engine.StrategyStatic,
	}
}

type harness struct {
	cfg     Config
	fetcher engine.Fetcher
	parser  engine.PageParser
	sink    *sink.Memory
	report  *engine.RunReport
	retries int
}

func newHarness(t *testing.T, fetcher engine.Fetcher) *harness {
	t.Helper()
	return &harness{
		cfg:     Config{MaxWorkers: 2, QueueDepth: 64, FetchTimeout: time.Second},
		fetcher: fetcher,
		parser:  stubParser{records: 1},
		sink:    sink.NewMemory(),
		report:  engine.NewRunReport("test-run", time.Now()),
		retries: 3,
	}
}

func (h *harness) dispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	rate, err := ratelimit.NewFixed(1000, 1000)
	require.NoError(t, err)
	rotator, err := identity.New(identity.DefaultPool(), identity.Config{Seed: 1})
	require.NoError(t, err)
	sel, err := selector.New(selector.Config{})
	require.NoError(t, err)
	policy := retry.New(h.retries, time.Millisecond, 10*time.Millisecond, nil)

	d, err := New(h.cfg, rate, rotator, policy, sel,
		map[engine.StrategyTag]engine.Fetcher{engine.StrategyStatic: h.fetcher},
		h.parser, h.sink, dedupe.NewMemory(), h.report, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		return okResponse(req.URL), nil
	}))

	h.cfg.MaxWorkers = 0
	rate, err := ratelimit.NewFixed(1, 1)
	require.NoError(t, err)
	rotator, err := identity.New(identity.DefaultPool(), identity.Config{})
	require.NoError(t, err)
	sel, err := selector.New(selector.Config{})
	require.NoError(t, err)
	policy := retry.New(1, time.Millisecond, time.Millisecond, nil)

	_, err = New(h.cfg, rate, rotator, policy, sel,
		map[engine.StrategyTag]engine.Fetcher{engine.StrategyStatic: h.fetcher},
		h.parser, h.sink, dedupe.NewMemory(), h.report, nil)
	require.Error(t, err)

	// A fetcher set without the static strategy is rejected.
	_, err = New(Config{MaxWorkers: 1}, rate, rotator, policy, sel,
		map[engine.StrategyTag]engine.Fetcher{engine.StrategyAPI: h.fetcher},
		h.parser, h.sink, dedupe.NewMemory(), h.report, nil)
	require.Error(t, err)
}

func TestRunAllSeedsSucceed(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		fetches.Add(1)
		return okResponse(req.URL), nil
	}))

	snap, err := h.dispatcher(t).Run(context.Background(), []string{
		"https://a.example/1",
		"https://a.example/2",
		"https://a.example/3",
	})
	require.NoError(t, err)
	require.Equal(t, 3, snap.Succeeded)
	require.Equal(t, 0, snap.Retries)
	require.Empty(t, snap.FailedItems)
	require.Empty(t, snap.Blocked)
	require.Equal(t, int32(3), fetches.Load())
	// One Accept call per successfully extracted page.
	require.Equal(t, 3, h.sink.Accepts())
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		if fetches.Add(1) <= 2 {
			return engine.FetchResponse{URL: req.URL, StatusCode: 503}, nil
		}
		return okResponse(req.URL), nil
	}))

	snap, err := h.dispatcher(t).Run(context.Background(), []string{"https://flaky.example/x"})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Succeeded)
	require.Equal(t, 2, snap.Retries)
	require.Empty(t, snap.FailedItems)
	require.Equal(t, int32(3), fetches.Load())
}

func TestRunExhaustsRetries(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		fetches.Add(1)
		return engine.FetchResponse{URL: req.URL, StatusCode: 500}, nil
	}))
	h.retries = 2

	snap, err := h.dispatcher(t).Run(context.Background(), []string{"https://down.example/x"})
	require.NoError(t, err)
	require.Equal(t, 0, snap.Succeeded)
	require.Equal(t, 2, snap.Retries)
	require.Len(t, snap.FailedItems, 1)
	require.Equal(t, engine.FailHTTP5xx, snap.FailedItems[0].Kind)
	// Initial attempt plus two retries.
	require.Equal(t, int32(3), fetches.Load())
	require.Equal(t, 0, h.sink.Accepts())
}

func TestRunBlockedIsTerminal(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		fetches.Add(1)
		return engine.FetchResponse{
			URL:        req.URL,
			StatusCode: 429,
			Body:       []byte("<html>please solve this captcha</html>"),
		}, nil
	}))

	snap, err := h.dispatcher(t).Run(context.Background(), []string{"https://guarded.example/x"})
	require.NoError(t, err)
	require.Equal(t, 0, snap.Retries)
	require.Equal(t, []string{"https://guarded.example/x"}, snap.Blocked)
	require.Equal(t, int32(1), fetches.Load())
}

func TestRunDedupesSeeds(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		fetches.Add(1)
		return okResponse(req.URL), nil
	}))

	// The same logical URL in three spellings.
	snap, err := h.dispatcher(t).Run(context.Background(), []string{
		"https://a.example/page?x=1&y=2",
		"https://A.EXAMPLE/page?y=2&x=1",
		"https://a.example:443/page?x=1&y=2#frag",
	})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Succeeded)
	require.Equal(t, int32(1), fetches.Load())
}

func TestRunDropsMalformedSeed(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		fetches.Add(1)
		return okResponse(req.URL), nil
	}))

	snap, err := h.dispatcher(t).Run(context.Background(), []string{"not a url"})
	require.NoError(t, err)
	require.Equal(t, int32(0), fetches.Load())
	require.Equal(t, 1, snap.Failures[engine.FailMalformedURL])
}

func TestRunNumberedPagination(t *testing.T) {
	var mu sync.Mutex
	fetched := []string{}
	h := newHarness(t, fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		mu.Lock()
		fetched = append(fetched, req.URL)
		mu.Unlock()
		return okResponse(req.URL), nil
	}))
	h.cfg.Pagination = &PaginationConfig{Strategy: pagination.StrategyNumbered, MaxPages: 3}

	snap, err := h.dispatcher(t).Run(context.Background(), []string{"https://shop.example/list"})
	require.NoError(t, err)
	require.Equal(t, 3, snap.Succeeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fetched, 3)
	require.Contains(t, fetched, "https://shop.example/list")
	require.Contains(t, fetched, "https://shop.example/list?page=2")
	require.Contains(t, fetched, "https://shop.example/list?page=3")
}

func TestRunEscalatesOnceToRendered(t *testing.T) {
	var staticFetches, renderedFetches atomic.Int32
	staticFetcher := fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		staticFetches.Add(1)
		// A client-rendered shell: 200 with an empty body.
		return engine.FetchResponse{URL: req.URL, StatusCode: 200, Strategy: engine.StrategyStatic}, nil
	})
	renderedFetcher := fetchFunc(func(_ context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		renderedFetches.Add(1)
		resp := okResponse(req.URL)
		resp.Strategy = engine.StrategyRendered
		return resp, nil
	})

	h := newHarness(t, staticFetcher)
	rate, err := ratelimit.NewFixed(1000, 1000)
	require.NoError(t, err)
	rotator, err := identity.New(identity.DefaultPool(), identity.Config{Seed: 1})
	require.NoError(t, err)
	sel, err := selector.New(selector.Config{})
	require.NoError(t, err)
	policy := retry.New(1, time.Millisecond, 10*time.Millisecond, nil)

	d, err := New(h.cfg, rate, rotator, policy, sel,
		map[engine.StrategyTag]engine.Fetcher{
			engine.StrategyStatic:   staticFetcher,
			engine.StrategyRendered: renderedFetcher,
		},
		h.parser, h.sink, dedupe.NewMemory(), h.report, zap.NewNop())
	require.NoError(t, err)

	snap, err := d.Run(context.Background(), []string{"https://spa.example/app"})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Succeeded)
	require.Equal(t, int32(1), staticFetches.Load())
	require.Equal(t, int32(1), renderedFetches.Load())
	require.Equal(t, 1, h.sink.Accepts())
}

func TestRunCancellation(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, fetchFunc(func(ctx context.Context, req engine.FetchRequest) (engine.FetchResponse, error) {
		select {
		case <-ctx.Done():
			return engine.FetchResponse{}, engine.NewFetchError(engine.FailCanceled, ctx.Err())
		case <-release:
			return okResponse(req.URL), nil
		}
	}))

	seeds := make([]string, 20)
	for i := range seeds {
		seeds[i] = fmt.Sprintf("https://slow.example/%d", i)
	}

	d := h.dispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = d.Run(ctx, seeds)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate after cancellation")
	}
	require.Error(t, runErr)
	close(release)
}
