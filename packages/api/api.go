// Package api exposes the indexing, search and statistics commands over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sitesearch/packages/domain"
	"sitesearch/packages/search"
)

type Indexing interface {
	StartFullIndex(ctx context.Context) error
	StopIndex(ctx context.Context) error
	AddOrUpdateSingleIndex(ctx context.Context, rawURL string) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) (*domain.SearchResponse, error)
}

type Statistics interface {
	Collect(ctx context.Context) (*domain.StatisticsResponse, error)
}

type Handler struct {
	indexing Indexing
	searcher Searcher
	stats    Statistics
}

// NewRouter wires every route onto a chi router.
func NewRouter(indexing Indexing, searcher Searcher, stats Statistics) http.Handler {
	h := &Handler{indexing: indexing, searcher: searcher, stats: stats}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/startIndexing", h.startIndexing)
		r.Get("/stopIndexing", h.stopIndexing)
		r.Post("/indexPage", h.indexPage)
		r.Get("/search", h.search)
		r.Get("/statistics", h.statistics)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handler) startIndexing(w http.ResponseWriter, r *http.Request) {
	err := h.indexing.StartFullIndex(r.Context())
	jsonResponse(w, statusFor(err), domain.NewIndexingResponse(err))
}

func (h *Handler) stopIndexing(w http.ResponseWriter, r *http.Request) {
	err := h.indexing.StopIndex(r.Context())
	jsonResponse(w, statusFor(err), domain.NewIndexingResponse(err))
}

// indexPage accepts the url either as a form field or as a query parameter.
func (h *Handler) indexPage(w http.ResponseWriter, r *http.Request) {
	err := h.indexing.AddOrUpdateSingleIndex(r.Context(), r.FormValue("url"))
	jsonResponse(w, statusFor(err), domain.NewIndexingResponse(err))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := search.Query{
		Text:   params.Get("query"),
		Site:   params.Get("site"),
		Offset: intParam(params.Get("offset")),
		Limit:  intParam(params.Get("limit")),
	}
	resp, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		jsonResponse(w, statusFor(err), domain.FailedSearch(err))
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	resp, err := h.stats.Collect(r.Context())
	if err != nil {
		jsonResponse(w, statusFor(err), domain.StatisticsResponse{Result: false, Error: err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsClientError(err):
		return http.StatusBadRequest
	default:
		slog.Error("Request failed", "error", err)
		return http.StatusInternalServerError
	}
}

func intParam(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
