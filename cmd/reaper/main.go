package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitesearch/packages/config"
	"sitesearch/packages/db"
	"sitesearch/packages/domain"
	"sitesearch/packages/logging"
	"sitesearch/packages/metrics"
	"sitesearch/packages/statistics"
)

const stalledRunMessage = "indexing stalled: no progress within the job timeout"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("FATAL: Failed to load configuration for logger setup", "error", err)
		os.Exit(1)
	}
	logCloser := logging.Setup(cfg.LogFile, cfg.LogLevel, "sitesearch-reaper")
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("--- Starting sitesearch reaper ---")

	go metrics.ExposeMetrics(ctx, cfg.MetricsAddr)

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	stats := statistics.New(store, nil)

	countTicker := time.NewTicker(cfg.ReaperInterval)
	defer countTicker.Stop()

	stalledTicker := time.NewTicker(max(cfg.JobTimeout/2, time.Minute))
	defer stalledTicker.Stop()

	slog.Info("Reaper tasks scheduled",
		"count_refresh", cfg.ReaperInterval.String(),
		"stalled_run_reset", cfg.JobTimeout.String(),
	)

	refreshCounts(ctx, stats)
	resetStalled(ctx, store, cfg.JobTimeout)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received. Exiting...")
			return
		case <-countTicker.C:
			refreshCounts(ctx, stats)
		case <-stalledTicker.C:
			resetStalled(ctx, store, cfg.JobTimeout)
		}
	}
}

func refreshCounts(ctx context.Context, stats *statistics.Service) {
	resp, err := stats.Collect(ctx)
	if err != nil {
		slog.Error("Failed to refresh page and lemma counts", "error", err)
		return
	}
	slog.Debug("Refreshed counts", "sites", resp.Statistics.Total.Sites,
		"pages", resp.Statistics.Total.Pages, "lemmas", resp.Statistics.Total.Lemmas)
}

// resetStalled fails sites whose INDEXING heartbeat is older than timeout.
// Their run died with its process and would otherwise block the next full index.
func resetStalled(ctx context.Context, store domain.Store, timeout time.Duration) {
	n, err := store.ResetStalledSites(ctx, timeout, stalledRunMessage)
	if err != nil {
		slog.Error("Failed to reset stalled sites", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("Reset stalled sites", "count", n, "older_than", timeout.String())
	}
}
