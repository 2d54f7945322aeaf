package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skimmer-dev/skimmer/internal/api"
	"github.com/skimmer-dev/skimmer/internal/config"
	"github.com/skimmer-dev/skimmer/internal/dedupe"
	"github.com/skimmer-dev/skimmer/internal/dispatch"
	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/fetcher/apiclient"
	"github.com/skimmer-dev/skimmer/internal/fetcher/headless"
	"github.com/skimmer-dev/skimmer/internal/fetcher/static"
	"github.com/skimmer-dev/skimmer/internal/identity"
	"github.com/skimmer-dev/skimmer/internal/logging"
	"github.com/skimmer-dev/skimmer/internal/metrics"
	"github.com/skimmer-dev/skimmer/internal/pagination"
	"github.com/skimmer-dev/skimmer/internal/parser"
	"github.com/skimmer-dev/skimmer/internal/ratelimit"
	"github.com/skimmer-dev/skimmer/internal/retry"
	"github.com/skimmer-dev/skimmer/internal/selector"
	"github.com/skimmer-dev/skimmer/internal/sink"
)

func newRunCmd() *cobra.Command {
	var seeds []string
	cmd := &cobra.Command{
		Use:   "run [flags] [seed-url ...]",
		Short: "Run a collection pass over the seed URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds = append(seeds, args...)
			return runCollection(cmd.Context(), seeds)
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable, adds to config seeds)")
	return cmd
}

func runCollection(parent context.Context, extraSeeds []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	seeds := append(append([]string(nil), cfg.Seeds...), extraSeeds...)
	if len(seeds) == 0 {
		return fmt.Errorf("no seed urls: pass them as arguments or set seeds in the config")
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics.Init()

	runID := uuid.NewString()
	logger.Info("starting run",
		zap.String("run_id", runID),
		zap.Int("seeds", len(seeds)),
		zap.Int("workers", cfg.Workers),
		zap.String("rate_mode", cfg.Rate.Mode),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rate, adaptive, err := buildRate(cfg)
	if err != nil {
		return err
	}

	rotator, err := buildRotator(cfg)
	if err != nil {
		return err
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	retryPolicy := retry.New(cfg.Retry.MaxRetries, cfg.Retry.BackoffBase, cfg.Retry.BackoffCap, rng)

	overrides := make(map[string]engine.StrategyTag, len(cfg.Selector.Overrides))
	for target, tag := range cfg.Selector.Overrides {
		overrides[target] = engine.StrategyTag(tag)
	}
	sel, err := selector.New(selector.Config{
		Overrides:         overrides,
		APIPatterns:       cfg.Selector.APIPatterns,
		MinBodyBytes:      cfg.Selector.MinBodyBytes,
		ScriptCoveragePct: cfg.Selector.ScriptCoveragePct,
	})
	if err != nil {
		return fmt.Errorf("build selector: %w", err)
	}

	fetchers, closeFetchers, err := buildFetchers(cfg)
	if err != nil {
		return err
	}
	defer closeFetchers()

	pageParser := parser.New(parser.Config{
		RecordSelector: cfg.Parser.RecordSelector,
		Fields:         cfg.Parser.Fields,
		NextSelector:   cfg.Parser.NextSelector,
		FollowLinks:    cfg.Parser.FollowLinks,
		MaxLinks:       cfg.Parser.MaxLinks,
	})

	dataSink, err := buildSink(ctx, cfg, runID)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dataSink.Close(); cerr != nil {
			logger.Warn("close sink", zap.Error(cerr))
		}
	}()

	index, closeIndex, err := buildDedupe(cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	report := engine.NewRunReport(runID, time.Now().UTC())

	statusSrv := api.New(cfg.Server.Port, runID, report, adaptive, logger)
	statusSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if serr := statusSrv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("status server shutdown", zap.Error(serr))
		}
	}()

	dispatcher, err := dispatch.New(
		dispatch.Config{
			MaxWorkers:   cfg.Workers,
			QueueDepth:   cfg.QueueDepth,
			FetchTimeout: cfg.Fetch.Timeout,
			Pagination:   paginationConfig(cfg),
		},
		rate, rotator, retryPolicy, sel, fetchers, pageParser, dataSink, index, report, logger,
	)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	snapshot, runErr := dispatcher.Run(ctx, seeds)

	logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", snapshot.Succeeded),
		zap.Int("retries", snapshot.Retries),
		zap.Int("failed", len(snapshot.FailedItems)),
		zap.Int("blocked", len(snapshot.Blocked)),
	)
	if err := json.NewEncoder(os.Stdout).Encode(snapshot); err != nil {
		logger.Warn("write report", zap.Error(err))
	}
	return runErr
}

func buildRate(cfg *config.Config) (engine.RateController, *ratelimit.Adaptive, error) {
	if cfg.Rate.Mode == "adaptive" {
		a, err := ratelimit.NewAdaptive(ratelimit.AdaptiveConfig{
			InitialRPS:    cfg.Rate.RPS,
			MinRPS:        cfg.Rate.MinRPS,
			MaxRPS:        cfg.Rate.MaxRPS,
			Burst:         cfg.Rate.Burst,
			SuccessStreak: cfg.Rate.SuccessStreak,
			IncreaseStep:  cfg.Rate.IncreaseStep,
			DecayFactor:   cfg.Rate.DecayFactor,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build rate controller: %w", err)
		}
		return a, a, nil
	}
	f, err := ratelimit.NewFixed(cfg.Rate.RPS, cfg.Rate.Burst)
	if err != nil {
		return nil, nil, fmt.Errorf("build rate controller: %w", err)
	}
	return f, nil, nil
}

func buildRotator(cfg *config.Config) (*identity.Rotator, error) {
	pool := make([]identity.PoolEntry, 0, len(cfg.Rotation.Identities))
	for _, id := range cfg.Rotation.Identities {
		weight := id.Weight
		if weight <= 0 {
			weight = 1
		}
		pool = append(pool, identity.PoolEntry{
			Identity: engine.Identity{Proxy: id.Proxy, UserAgent: id.UserAgent},
			Weight:   weight,
		})
	}
	if len(pool) == 0 {
		pool = identity.DefaultPool()
	}
	rotator, err := identity.New(pool, identity.Config{
		Policy:      identity.Policy(cfg.Rotation.Strategy),
		MaxFailures: cfg.Rotation.MaxFailures,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("build rotator: %w", err)
	}
	return rotator, nil
}

func buildFetchers(cfg *config.Config) (map[engine.StrategyTag]engine.Fetcher, func(), error) {
	staticCfg := static.Config{
		RespectRobots: cfg.Fetch.RespectRobots,
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
	}
	fetchers := map[engine.StrategyTag]engine.Fetcher{
		engine.StrategyStatic: static.New(staticCfg),
		engine.StrategyAPI:    apiclient.New(staticCfg),
	}
	closeAll := func() {}
	if cfg.Fetch.Rendered.Enabled {
		rendered, err := headless.New(headless.Config{
			MaxParallel:       cfg.Fetch.Rendered.MaxParallel,
			NavigationTimeout: cfg.Fetch.Rendered.NavigationTimeout,
			SettleDelay:       cfg.Fetch.Rendered.SettleDelay,
			Proxy:             cfg.Fetch.Rendered.Proxy,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build rendered fetcher: %w", err)
		}
		fetchers[engine.StrategyRendered] = rendered
		closeAll = rendered.Close
	}
	return fetchers, closeAll, nil
}

// closableSink is what every concrete sink provides beyond engine.Sink.
type closableSink interface {
	engine.Sink
	Close() error
}

func buildSink(ctx context.Context, cfg *config.Config, runID string) (closableSink, error) {
	switch cfg.Sink.Type {
	case "jsonl":
		return sink.NewJSONL(cfg.Sink.Path)
	case "csv":
		return sink.NewCSV(cfg.Sink.Path)
	case "memory":
		return sink.NewMemory(), nil
	case "postgres":
		return sink.NewPostgres(ctx, cfg.Sink.DSN, runID)
	case "pubsub":
		return sink.NewPubSub(ctx, cfg.Sink.ProjectID, cfg.Sink.Topic, runID)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}

func buildDedupe(cfg *config.Config) (engine.DedupeIndex, func(), error) {
	if cfg.Dedupe.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Dedupe.RedisAddr})
		index := dedupe.NewRedis(client, cfg.Dedupe.Prefix, cfg.Dedupe.TTL)
		return index, func() { client.Close() }, nil //nolint:errcheck
	}
	return dedupe.NewMemory(), func() {}, nil
}

func paginationConfig(cfg *config.Config) *dispatch.PaginationConfig {
	switch cfg.Pagination.Strategy {
	case "", "none":
		return nil
	}
	return &dispatch.PaginationConfig{
		Strategy:   pagination.Strategy(cfg.Pagination.Strategy),
		Param:      cfg.Pagination.Param,
		MaxPages:   cfg.Pagination.MaxPages,
		MaxScrolls: cfg.Pagination.MaxScrolls,
	}
}
