package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitesearch/packages/api"
	"sitesearch/packages/cache"
	"sitesearch/packages/config"
	"sitesearch/packages/crawler"
	"sitesearch/packages/db"
	"sitesearch/packages/indexer"
	"sitesearch/packages/logging"
	"sitesearch/packages/metrics"
	"sitesearch/packages/morph"
	"sitesearch/packages/orchestrator"
	"sitesearch/packages/search"
	"sitesearch/packages/statistics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("FATAL: Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logCloser := logging.Setup(cfg.LogFile, cfg.LogLevel, "sitesearch")
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("--- Starting sitesearch server ---", "sites", len(cfg.Sites), "listen", cfg.ListenAddr)

	go metrics.ExposeMetrics(ctx, cfg.MetricsAddr)

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var (
		resultCache search.Cache
		invalidator orchestrator.Invalidator
	)
	if cfg.RedisAddr != "" {
		c, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SearchCacheTTL)
		if err != nil {
			slog.Warn("Search cache disabled", "error", err)
		} else {
			defer c.Close()
			resultCache, invalidator = c, c
		}
	}

	analyzers := morph.New(cfg.Languages...)
	fetcher := crawler.New(crawler.Options{
		Timeout:       cfg.FetchTimeout,
		Delay:         cfg.FetchDelay,
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})
	ix := indexer.New(store, analyzers, cfg.IndexBatchSize)

	orch := orchestrator.New(store, fetcher, ix, invalidator, orchestrator.Options{
		Sites:             cfg.Sites,
		MaxWorkers:        cfg.MaxWorkers,
		PagesChunk:        cfg.PagesChunk,
		MaxPagesPerSite:   cfg.MaxPagesPerSite,
		IgnoreExtensions:  cfg.IgnoreExtensions,
		HeartbeatInterval: cfg.JobTimeout / 3,
	})
	engine := search.New(store, analyzers, search.Options{
		DefaultLimit:    cfg.SearchDefaultLimit,
		FrequencyCutoff: cfg.LemmaFrequencyCutoff,
	}, resultCache)
	stats := statistics.New(store, orch)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(orch, engine, stats),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received. Draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if orch.Running() {
		if err := orch.StopIndex(shutdownCtx); err != nil {
			slog.Warn("Stop on shutdown", "error", err)
		}
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		slog.Error("Indexing tasks did not drain before timeout", "error", err)
	}
	slog.Info("Server stopped")
}
