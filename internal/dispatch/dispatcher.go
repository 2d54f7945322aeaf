// Package dispatch runs the fetch pipeline: a bounded worker pool pulling
// from a shared queue, applying rate control, identity rotation, strategy
// selection and retry policy per work item, and feeding page results back
// through the pagination cursor.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/metrics"
	"github.com/skimmer-dev/skimmer/internal/pagination"
	"github.com/skimmer-dev/skimmer/internal/retry"
	"github.com/skimmer-dev/skimmer/internal/selector"
)

// Config controls dispatcher behavior.
type Config struct {
	MaxWorkers   int
	QueueDepth   int
	FetchTimeout time.Duration
	// Pagination, when set, attaches a fresh cursor to every seed.
	Pagination *PaginationConfig
}

// PaginationConfig mirrors pagination.Config minus the per-seed base URL.
type PaginationConfig struct {
	Strategy   pagination.Strategy
	Param      string
	MaxPages   int
	MaxScrolls int
}

// Dispatcher owns the worker pool, the work queue and the shared mutation
// points (rate state, rotation cursor, dedupe index).
type Dispatcher struct {
	cfg      Config
	queue    *Queue
	rate     engine.RateController
	rotator  engine.Rotator
	retry    *retry.Policy
	selector *selector.Selector
	fetchers map[engine.StrategyTag]engine.Fetcher
	parser   engine.PageParser
	sink     engine.Sink
	dedupe   engine.DedupeIndex
	report   *engine.RunReport
	log      *zap.Logger

	// pending counts work items from enqueue intent until terminal state,
	// including items parked in delayed retries. The run completes when it
	// reaches zero.
	pending sync.WaitGroup
}

// New wires a Dispatcher. The fetchers map must at least cover the static
// strategy; a missing rendered fetcher disables escalation.
func New(
	cfg Config,
	rate engine.RateController,
	rotator engine.Rotator,
	retryPolicy *retry.Policy,
	sel *selector.Selector,
	fetchers map[engine.StrategyTag]engine.Fetcher,
	parser engine.PageParser,
	sink engine.Sink,
	dedupe engine.DedupeIndex,
	report *engine.RunReport,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("max workers must be > 0, got %d", cfg.MaxWorkers)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if _, ok := fetchers[engine.StrategyStatic]; !ok {
		return nil, fmt.Errorf("a static fetcher is required")
	}
	if cfg.Pagination != nil {
		switch cfg.Pagination.Strategy {
		case pagination.StrategyNumbered, pagination.StrategyScroll, pagination.StrategyToken:
		default:
			return nil, fmt.Errorf("unknown pagination strategy %q", cfg.Pagination.Strategy)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    NewQueue(cfg.QueueDepth),
		rate:     rate,
		rotator:  rotator,
		retry:    retryPolicy,
		selector: sel,
		fetchers: fetchers,
		parser:   parser,
		sink:     sink,
		dedupe:   dedupe,
		report:   report,
		log:      logger,
	}, nil
}

// Run seeds the queue and blocks until every work item has reached a
// terminal state or the context is canceled. Cancellation stops workers from
// dequeuing and drops delayed retries instead of executing them.
func (d *Dispatcher) Run(ctx context.Context, seeds []string) (engine.ReportSnapshot, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, s := range seeds {
		d.seed(runCtx, s)
	}

	var workers sync.WaitGroup
	for i := 0; i < d.cfg.MaxWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			d.worker(runCtx)
		}()
	}

	drained := make(chan struct{})
	go func() {
		d.pending.Wait()
		d.queue.Close()
		close(drained)
	}()

	// On cancellation, empty the queue so parked items reach a terminal
	// state and the pending counter can hit zero.
	go func() {
		select {
		case <-drained:
			return
		case <-runCtx.Done():
		}
		for {
			select {
			case <-drained:
				return
			default:
			}
			if item, ok := d.queue.TryDequeue(); ok {
				d.report.AddFailure(item.URL, engine.FailCanceled, runCtx.Err())
				d.pending.Done()
				continue
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	workers.Wait()
	<-drained

	if err := ctx.Err(); err != nil {
		return d.report.Snapshot(), fmt.Errorf("run canceled: %w", err)
	}
	return d.report.Snapshot(), nil
}

// seed enqueues one starting URL, attaching a pagination cursor when one is
// configured.
func (d *Dispatcher) seed(ctx context.Context, rawURL string) {
	item := engine.WorkItem{URL: rawURL}
	if d.cfg.Pagination != nil {
		cur, err := pagination.New(pagination.Config{
			Strategy:   d.cfg.Pagination.Strategy,
			BaseURL:    rawURL,
			Param:      d.cfg.Pagination.Param,
			MaxPages:   d.cfg.Pagination.MaxPages,
			MaxScrolls: d.cfg.Pagination.MaxScrolls,
		})
		if err != nil {
			d.log.Warn("pagination cursor rejected seed", zap.String("url", rawURL), zap.Error(err))
		} else {
			item.Cursor = cur
		}
	}
	d.tryEnqueue(ctx, item)
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.IncActiveWorkers()
		d.process(ctx, item)
		metrics.DecActiveWorkers()
	}
}

// process runs one attempt of one work item and always settles the pending
// slot exactly once, directly or through a scheduled retry.
func (d *Dispatcher) process(ctx context.Context, item engine.WorkItem) {
	if err := d.rate.Acquire(ctx); err != nil {
		d.report.AddFailure(item.URL, engine.FailCanceled, err)
		d.pending.Done()
		return
	}

	item.Attempt++
	id := d.rotator.Next()

	strategy := item.Strategy
	if strategy == "" {
		strategy = d.selector.Select(item.URL)
	}
	fetcher, ok := d.fetchers[strategy]
	if !ok {
		fetcher = d.fetchers[engine.StrategyStatic]
		strategy = engine.StrategyStatic
	}

	resp, err := fetcher.Fetch(ctx, engine.FetchRequest{
		URL:          item.URL,
		Identity:     id,
		Strategy:     strategy,
		Timeout:      d.cfg.FetchTimeout,
		ScrollOffset: item.ScrollOffset,
	})
	metrics.ObserveFetch(string(strategy), resp.StatusCode, resp.Elapsed)

	decision := d.retry.Classify(resp, err, item.Attempt)
	switch decision.Disposition {
	case retry.Again:
		item.Strategy = strategy // pin so retries skip re-selection
		d.scheduleRetry(ctx, item, id, decision)
	case retry.Block:
		d.log.Warn("target blocked, not retrying",
			zap.String("url", item.URL),
			zap.Int("status", resp.StatusCode))
		d.report.AddBlocked(item.URL)
		d.rate.ReportOutcome(false, true)
		d.pending.Done()
	case retry.Fail:
		d.log.Debug("work item failed terminally",
			zap.String("url", item.URL),
			zap.String("kind", string(decision.Kind)),
			zap.Int("attempts", item.Attempt))
		d.report.AddFailure(item.URL, decision.Kind, decision.Err)
		d.rate.ReportOutcome(false, decision.Kind == engine.FailRateLimited)
		d.reportIdentity(id, decision.Kind)
		d.pending.Done()
	default:
		d.handleSuccess(ctx, item, id, strategy, resp)
	}
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, item engine.WorkItem, id engine.Identity, decision retry.Decision) {
	d.report.AddRetry()
	metrics.IncRetries()
	d.rate.ReportOutcome(false, decision.Kind == engine.FailRateLimited)
	d.reportIdentity(id, decision.Kind)
	d.log.Debug("retry scheduled",
		zap.String("url", item.URL),
		zap.Int("attempt", item.Attempt),
		zap.Duration("after", decision.RetryAfter),
		zap.String("kind", string(decision.Kind)))

	// The delay parks the item instead of occupying a worker slot. Pending
	// stays held until the retry settles.
	go func() {
		t := time.NewTimer(decision.RetryAfter)
		defer t.Stop()
		select {
		case <-ctx.Done():
			d.report.AddFailure(item.URL, engine.FailCanceled, ctx.Err())
			d.pending.Done()
		case <-t.C:
			if err := d.queue.Enqueue(ctx, item); err != nil {
				d.report.AddFailure(item.URL, engine.FailCanceled, err)
				d.pending.Done()
			}
		}
	}()
}

func (d *Dispatcher) handleSuccess(ctx context.Context, item engine.WorkItem, id engine.Identity, strategy engine.StrategyTag, resp engine.FetchResponse) {
	defer d.pending.Done()

	d.rotator.ReportSuccess(id)
	d.rate.ReportOutcome(true, false)

	resp, strategy = d.maybeEscalate(ctx, &item, strategy, resp)
	strategy = d.selector.Refine(strategy, resp)

	result, err := d.parser.Extract(resp, strategy)
	if err != nil {
		d.log.Warn("extraction failed",
			zap.String("url", item.URL),
			zap.Error(err))
		d.report.AddExtractionError()
		return
	}

	if err := d.sink.Accept(ctx, result.Records); err != nil {
		// Sink failure is a run-level warning, never a blocker.
		d.log.Warn("sink rejected records",
			zap.String("url", item.URL),
			zap.Int("records", len(result.Records)),
			zap.Error(err))
		d.report.AddSinkError()
	}
	d.report.AddSuccess()

	if item.Cursor == nil {
		return
	}
	next, ok := item.Cursor.Advance(engine.PageOutcome{
		URL:          item.URL,
		Records:      len(result.Records),
		NextToken:    result.NextToken,
		ScrollHeight: resp.ScrollHeight,
	})
	if !ok {
		return
	}
	if d.cfg.Pagination != nil {
		metrics.IncPagesEmitted(string(d.cfg.Pagination.Strategy))
	}
	d.tryEnqueue(ctx, engine.WorkItem{
		URL:          next.URL,
		Depth:        item.Depth + 1,
		Strategy:     item.Strategy,
		ScrollOffset: next.ScrollOffset,
		Cursor:       item.Cursor,
	})
}

// maybeEscalate re-fetches once through the rendered engine when the static
// probe came back too empty to extract from. At most one escalation per work
// item; a failed rendered fetch falls back to the static response.
func (d *Dispatcher) maybeEscalate(ctx context.Context, item *engine.WorkItem, strategy engine.StrategyTag, resp engine.FetchResponse) (engine.FetchResponse, engine.StrategyTag) {
	if strategy != engine.StrategyStatic || item.Escalated {
		return resp, strategy
	}
	rendered, ok := d.fetchers[engine.StrategyRendered]
	if !ok || !d.selector.ShouldEscalate(resp) {
		return resp, strategy
	}
	item.Escalated = true

	if err := d.rate.Acquire(ctx); err != nil {
		return resp, strategy
	}
	id := d.rotator.Next()
	renderedResp, err := rendered.Fetch(ctx, engine.FetchRequest{
		URL:          item.URL,
		Identity:     id,
		Strategy:     engine.StrategyRendered,
		Timeout:      d.cfg.FetchTimeout,
		ScrollOffset: item.ScrollOffset,
	})
	if err != nil {
		d.log.Warn("rendered escalation failed, keeping static result",
			zap.String("url", item.URL),
			zap.Error(err))
		return resp, strategy
	}
	metrics.ObserveFetch(string(engine.StrategyRendered), renderedResp.StatusCode, renderedResp.Elapsed)
	d.log.Info("escalated to rendered fetch", zap.String("url", item.URL))
	return renderedResp, engine.StrategyRendered
}

// tryEnqueue normalizes, dedupes and enqueues a work item. The dedupe
// check-and-insert is atomic relative to the enqueue: a losing duplicate is
// dropped before it ever takes a pending slot.
func (d *Dispatcher) tryEnqueue(ctx context.Context, item engine.WorkItem) {
	normalized, err := engine.NormalizeURL(item.URL)
	if err != nil {
		d.log.Warn("dropping malformed url", zap.String("url", item.URL), zap.Error(err))
		d.report.AddFailure(item.URL, engine.FailMalformedURL, err)
		return
	}
	item.URL = normalized

	key := normalized
	if item.ScrollOffset > 0 {
		// Scroll continuations legitimately revisit the same URL.
		key = fmt.Sprintf("%s#scroll=%d", normalized, item.ScrollOffset)
	}
	fresh, err := d.dedupe.FirstSeen(ctx, key)
	if err != nil {
		d.log.Warn("dedupe index unavailable, enqueueing anyway",
			zap.String("url", normalized), zap.Error(err))
		fresh = true
	}
	if !fresh {
		d.log.Debug("duplicate target filtered", zap.String("url", normalized))
		return
	}

	d.pending.Add(1)
	go func() {
		if err := d.queue.Enqueue(ctx, item); err != nil {
			d.report.AddFailure(item.URL, engine.FailCanceled, err)
			d.pending.Done()
		}
	}()
}

// reportIdentity feeds proxy-attributable failures back into the rotator.
func (d *Dispatcher) reportIdentity(id engine.Identity, kind engine.FailureKind) {
	if id.Proxy == "" {
		return
	}
	switch kind {
	case engine.FailProxy, engine.FailConnRefused, engine.FailTimeout:
		d.rotator.ReportFailure(id)
	}
}
