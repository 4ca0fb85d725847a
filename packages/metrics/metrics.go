// Package metrics
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_name"},
	)
	PagesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pages_fetched_total",
			Help: "Total number of page fetches, labeled by result (ok, http_error, transport_error).",
		},
		[]string{"result"},
	)
	PagesIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pages_indexed_total",
			Help: "Total number of pages written to the inverted index.",
		},
	)
	PageIndexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "page_index_duration_seconds",
			Help:    "Time spent lemmatizing and persisting a single page.",
			Buckets: prometheus.DefBuckets,
		},
	)
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "Duration of search queries in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	SearchCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_requests_total",
			Help: "Search cache lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)
	CrawlRunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_runs_active",
			Help: "Number of site crawl runs currently in progress.",
		},
	)
	CrawlRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_runs_total",
			Help: "Finished site crawl runs, labeled by outcome (indexed, failed, interrupted).",
		},
		[]string{"outcome"},
	)
	TotalPages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitesearch_pages_total",
			Help: "Total number of stored pages across all sites.",
		},
	)
	TotalLemmas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitesearch_lemmas_total",
			Help: "Total number of lemma catalogue rows across all sites.",
		},
	)
)

func init() {
	prometheus.MustRegister(DBQueryDuration)
	prometheus.MustRegister(PagesFetched)
	prometheus.MustRegister(PagesIndexed)
	prometheus.MustRegister(PageIndexDuration)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchCacheRequests)
	prometheus.MustRegister(CrawlRunsActive)
	prometheus.MustRegister(CrawlRuns)
	prometheus.MustRegister(TotalPages)
	prometheus.MustRegister(TotalLemmas)
}

// ObserveQuery records the duration of a named query. Use as
// defer metrics.ObserveQuery("name", time.Now()).
func ObserveQuery(name string, start time.Time) {
	DBQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// ExposeMetrics serves /metrics on addr until ctx is done.
func ExposeMetrics(ctx context.Context, addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
