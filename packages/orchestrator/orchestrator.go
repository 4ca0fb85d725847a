// Package orchestrator drives crawl runs: one breadth-first run per
// configured site, a single-page re-index path, and cooperative stop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"sitesearch/packages/crawler"
	"sitesearch/packages/domain"
	"sitesearch/packages/indexer"
	"sitesearch/packages/worker"
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*crawler.Response, error)
	Allowed(ctx context.Context, rawURL string) bool
}

type Indexer interface {
	IndexPage(ctx context.Context, cache *indexer.LemmaCache, page domain.Page) error
	RetractPage(ctx context.Context, page domain.Page) error
}

// Invalidator is told whenever the index content changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	Sites            []domain.SiteConfig
	MaxWorkers       int
	PagesChunk       int
	MaxPagesPerSite  int
	IgnoreExtensions []string

	// HeartbeatInterval is how often a running crawl refreshes its site's
	// status time.
	HeartbeatInterval time.Duration
}

type Orchestrator struct {
	store       domain.Store
	fetcher     Fetcher
	indexer     Indexer
	invalidator Invalidator
	opts        Options
	ignored     map[string]bool

	mu        sync.Mutex
	pool      *worker.Pool
	draining  int
	drainDone chan struct{}
}

// New builds an orchestrator. invalidator may be nil.
func New(store domain.Store, fetcher Fetcher, ix Indexer, invalidator Invalidator, opts Options) *Orchestrator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 50
	}
	if opts.PagesChunk <= 0 {
		opts.PagesChunk = 250
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	ignored := make(map[string]bool, len(opts.IgnoreExtensions))
	for _, ext := range opts.IgnoreExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		ignored[ext] = true
	}
	drainDone := make(chan struct{})
	close(drainDone)
	return &Orchestrator{
		store:       store,
		fetcher:     fetcher,
		indexer:     ix,
		invalidator: invalidator,
		opts:        opts,
		ignored:     ignored,
		pool:        worker.NewPool(opts.MaxWorkers),
		drainDone:   drainDone,
	}
}

// StartFullIndex drops every stored site and launches one crawl run per
// configured site. It returns as soon as the runs are scheduled.
func (o *Orchestrator) StartFullIndex(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.draining > 0 {
		return domain.ErrAlreadyTerminating
	}
	if o.pool.Active() {
		return domain.ErrAlreadyRunning
	}
	busy, err := o.store.AnySiteWithStatus(ctx, domain.Indexing)
	if err != nil {
		return err
	}
	if busy {
		return domain.ErrAlreadyRunning
	}

	var sites []domain.Site
	err = o.store.WithTx(ctx, func(tx domain.Store) error {
		existing, err := tx.ListSites(ctx)
		if err != nil {
			return err
		}
		for _, site := range existing {
			if err := tx.DeleteSite(ctx, site.ID); err != nil {
				return err
			}
		}
		for _, cfg := range o.opts.Sites {
			site, err := tx.UpsertSite(ctx, cfg.URL, cfg.Name, domain.Indexing)
			if err != nil {
				return err
			}
			sites = append(sites, *site)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset sites: %w", err)
	}

	pool := o.pool
	for _, site := range sites {
		pool.Go("crawl "+site.URL, func(ctx context.Context) error {
			o.runSite(ctx, pool, site)
			return nil
		})
	}
	slog.Info("Full indexing started", "sites", len(sites))
	return nil
}

// StopIndex cancels every in-flight task and swaps in a fresh pool. The old
// pool drains in the background; StartFullIndex is refused until it has.
func (o *Orchestrator) StopIndex(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.draining > 0 {
		return domain.ErrAlreadyTerminating
	}
	if !o.pool.Active() {
		return domain.ErrNotRunning
	}

	old := o.pool
	o.pool = worker.NewPool(o.opts.MaxWorkers)
	o.draining++
	o.drainDone = make(chan struct{})
	old.Cancel()
	slog.Info("Indexing stop requested", "tasks", old.Len())

	go func() {
		_ = old.Wait(context.Background())
		slog.Info("Interrupted tasks drained")
		o.notifyChanged(context.Background())

		o.mu.Lock()
		defer o.mu.Unlock()
		o.draining--
		if o.draining == 0 {
			close(o.drainDone)
		}
	}()
	return nil
}

// AddOrUpdateSingleIndex fetches and indexes one page of a configured site,
// replacing the stored copy of that path.
func (o *Orchestrator) AddOrUpdateSingleIndex(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %s", domain.ErrOutOfConfigScope, rawURL)
	}
	cfg, ok := o.configuredSite(u)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOutOfConfigScope, rawURL)
	}
	path := normalizePath(u)

	o.mu.Lock()
	if o.draining > 0 {
		o.mu.Unlock()
		return domain.ErrAlreadyTerminating
	}
	if o.pool.Active() {
		o.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	task := o.pool.Go("index "+cfg.URL+path, func(ctx context.Context) error {
		return o.indexSingle(ctx, cfg, path)
	})
	o.mu.Unlock()

	select {
	case <-task.Done():
		return task.Wait()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no task is registered on the current pool or on a pool
// that is still draining.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		pool, drainDone := o.pool, o.drainDone
		o.mu.Unlock()

		select {
		case <-drainDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := pool.Wait(ctx); err != nil {
			return err
		}

		o.mu.Lock()
		settled := o.pool == pool && o.draining == 0 && !pool.Active()
		o.mu.Unlock()
		if settled {
			return nil
		}
	}
}

// Running reports whether any task is registered or a stop is draining.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draining > 0 || o.pool.Active()
}

// configuredSite returns the configured site whose root contains u. The
// deepest root wins when several sites share an origin.
func (o *Orchestrator) configuredSite(u *url.URL) (domain.SiteConfig, bool) {
	var best domain.SiteConfig
	bestRoot := ""
	p := normalizePath(u)
	for _, cfg := range o.opts.Sites {
		base, err := url.Parse(cfg.URL)
		if err != nil || !crawler.SameOrigin(base, u) {
			continue
		}
		root := normalizePath(base)
		if underRoot(root, p) && len(root) > len(bestRoot) {
			best, bestRoot = cfg, root
		}
	}
	return best, bestRoot != ""
}

func (o *Orchestrator) indexSingle(ctx context.Context, cfg domain.SiteConfig, path string) error {
	site, err := o.store.GetSiteByURL(ctx, cfg.URL)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		site, err = o.store.UpsertSite(ctx, cfg.URL, cfg.Name, domain.Indexing)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if err := o.store.UpdateSiteStatus(ctx, site.ID, domain.Indexing, ""); err != nil {
			return err
		}
	}

	log := slog.With("site", site.URL, "path", path)
	err = o.replacePage(ctx, *site, path)
	o.finish(ctx, log, *site, err)
	o.notifyChanged(ctx)
	return err
}

// replacePage retracts the stored copy of path, then fetches, stores and
// indexes it again.
func (o *Orchestrator) replacePage(ctx context.Context, site domain.Site, path string) error {
	existing, err := o.store.FindPage(ctx, site.ID, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := o.indexer.RetractPage(ctx, *existing); err != nil {
			return err
		}
	}

	page, fetchErr := o.fetchPage(ctx, site, path)
	if fetchErr != nil && ctx.Err() != nil {
		return fetchErr
	}
	inserted, err := o.store.BulkInsertPages(ctx, []domain.Page{page})
	if err != nil {
		return err
	}
	if len(inserted) != 1 {
		return fmt.Errorf("page %s was stored concurrently", path)
	}
	if fetchErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrFetchFailure, fetchErr)
	}
	return o.indexer.IndexPage(ctx, indexer.NewLemmaCache(site.ID), inserted[0])
}

// fetchPage turns a fetch into a Page row. A transport failure yields a
// page with FetchFailedCode together with the cause.
func (o *Orchestrator) fetchPage(ctx context.Context, site domain.Site, path string) (domain.Page, error) {
	page := domain.Page{SiteID: site.ID, Path: path}
	resp, err := o.fetcher.Fetch(ctx, pageURL(site, path))
	if err != nil {
		page.Code = domain.FetchFailedCode
		return page, err
	}
	page.Code = resp.StatusCode
	page.Content = resp.Body
	return page, nil
}

// finish writes the terminal status of a site. The write uses a context
// detached from cancellation so interrupted runs still leave INDEXING.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, site domain.Site, err error) {
	status, message := domain.Indexed, ""
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInterrupted) || errors.Is(err, context.Canceled):
		status, message = domain.Failed, domain.ErrInterrupted.Error()
	default:
		status, message = domain.Failed, err.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if werr := o.store.UpdateSiteStatus(writeCtx, site.ID, status, message); werr != nil {
		log.Error("Failed to record site status", "status", status, "error", werr)
		return
	}
	if err != nil {
		log.Warn("Site indexing failed", "status", status, "error", message)
	} else {
		log.Info("Site indexing finished", "status", status)
	}
}

func (o *Orchestrator) notifyChanged(ctx context.Context) {
	if o.invalidator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.invalidator.Invalidate(ctx); err != nil {
		slog.Warn("Search cache invalidation failed", "error", err)
	}
}
