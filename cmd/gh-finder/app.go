package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/api"
	"github.com/vilaca/gh-finder/internal/api/github"
	"github.com/vilaca/gh-finder/internal/config"
	"github.com/vilaca/gh-finder/internal/history"
	"github.com/vilaca/gh-finder/internal/logging"
	"github.com/vilaca/gh-finder/internal/metrics"
	"github.com/vilaca/gh-finder/internal/search"
)

// app holds the shared dependencies every command is built from.
// This is the composition root.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	directory *api.DedupClient
	store     history.Store
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	httpClient := &http.Client{Timeout: cfg.GitHub.Timeout}
	githubClient := github.NewClient(api.ClientConfig{
		BaseURL:               cfg.GitHub.URL,
		Token:                 cfg.GitHub.Token,
		MaxConcurrentRequests: cfg.GitHub.MaxConcurrentRequests,
	}, httpClient, github.WithLogger(logger), github.WithMetrics(m))

	directory := api.NewDedupClient(githubClient, cfg.GitHub.CacheTTL,
		api.WithDedupLogger(logger), api.WithDedupMetrics(m))

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		metrics:   m,
		directory: directory,
		closers:   []func(){directory.Close},
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	logger.Debug("application wired",
		zap.String("github_url", cfg.GitHub.URL),
		zap.Bool("token", cfg.HasGitHubToken()),
		zap.String("history_backend", cfg.History.Backend))
	return a, nil
}

// openStore builds the history backend named in the configuration.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (history.Store, func(), error) {
	switch strings.ToLower(cfg.History.Backend) {
	case config.BackendMemory:
		return history.NewMemoryStore(), func() {}, nil

	case config.BackendFile:
		return history.NewFileStore(cfg.History.FilePath, logger), func() {}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store := history.NewRedisStore(history.RedisStoreConfig{
			Client:    client,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		return store, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}

// searchOptions applies the configured tuning to a controller.
func (a *app) searchOptions() []search.Option {
	return []search.Option{
		search.WithLogger(a.logger),
		search.WithMetrics(a.metrics),
		search.WithDebounce(a.cfg.Search.DebounceDelay, nil),
		search.WithSuggestionLimit(a.cfg.Search.SuggestionLimit),
		search.WithMinQueryLength(a.cfg.Search.MinQueryLength),
		search.WithSearchHook(func(term string) {
			a.logger.Info("search submitted", zap.String("term", term))
		}),
	}
}

// loadRecent reads the CLI's own recent list, stored outside any web session.
func (a *app) loadRecent(ctx context.Context) (*history.Recent, error) {
	return history.LoadRecent(ctx, history.RecentConfig{
		Store:    a.store,
		Key:      a.cfg.History.Key,
		Capacity: a.cfg.Search.RecentCapacity,
		Logger:   a.logger,
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
