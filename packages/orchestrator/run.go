package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitesearch/packages/crawler"
	"sitesearch/packages/domain"
	"sitesearch/packages/indexer"
	"sitesearch/packages/metrics"
	"sitesearch/packages/worker"
)

// siteRun is the state of one crawl of one site. Only the run goroutine
// touches visited and indexing.
type siteRun struct {
	o     *Orchestrator
	pool  *worker.Pool
	site  domain.Site
	log   *slog.Logger
	cache *indexer.LemmaCache
	root  string

	visited  map[string]bool
	indexing []*worker.Task
}

func (o *Orchestrator) runSite(ctx context.Context, pool *worker.Pool, site domain.Site) {
	metrics.CrawlRunsActive.Inc()
	defer metrics.CrawlRunsActive.Dec()

	_, root := siteRoot(site)
	r := &siteRun{
		o:       o,
		pool:    pool,
		site:    site,
		log:     slog.With("run_id", uuid.NewString(), "site", site.URL),
		cache:   indexer.NewLemmaCache(site.ID),
		root:    root,
		visited: make(map[string]bool),
	}
	r.log.Info("Site crawl started", "root", root)

	stopHeartbeat := r.heartbeat(ctx, o.opts.HeartbeatInterval)
	err := r.crawl(ctx)
	if ierr := r.joinIndexing(); err == nil {
		err = ierr
	}
	stopHeartbeat()

	switch {
	case err == nil:
		metrics.CrawlRuns.WithLabelValues("indexed").Inc()
	case errors.Is(err, domain.ErrInterrupted) || ctx.Err() != nil:
		err = domain.ErrInterrupted
		metrics.CrawlRuns.WithLabelValues("interrupted").Inc()
	default:
		metrics.CrawlRuns.WithLabelValues("failed").Inc()
	}
	o.finish(ctx, r.log, site, err)
	if err == nil {
		o.notifyChanged(ctx)
	}
	r.log.Info("Site crawl done", "pages", len(r.visited), "lemmas", r.cache.Len())
}

// heartbeat refreshes the INDEXING status time every interval so the reaper
// does not take a live run for a dead one. The returned func stops it and
// returns once no refresh is in flight.
func (r *siteRun) heartbeat(ctx context.Context, every time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.o.store.UpdateSiteStatus(ctx, r.site.ID, domain.Indexing, "")
				if err != nil && ctx.Err() == nil {
					r.log.Warn("Heartbeat write failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// crawl persists the root page, then expands wave by wave until a wave
// finds no unvisited path.
func (r *siteRun) crawl(ctx context.Context) error {
	r.visited[r.root] = true
	root, err := r.o.fetchPage(ctx, r.site, r.root)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ErrInterrupted
		}
		return fmt.Errorf("site root unreachable: %w: %w", domain.ErrFetchFailure, err)
	}
	frontier, err := r.persist(ctx, []domain.Page{root})
	if err != nil {
		return err
	}

	for wave := 1; len(frontier) > 0; wave++ {
		if err := ctx.Err(); err != nil {
			return domain.ErrInterrupted
		}

		paths, err := r.discover(ctx, frontier)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			break
		}
		r.log.Debug("Crawl wave discovered paths", "wave", wave, "frontier", len(frontier), "new", len(paths))

		pages, err := r.fetchAll(ctx, paths)
		if err != nil {
			return err
		}
		if frontier, err = r.persist(ctx, pages); err != nil {
			return err
		}
	}
	return nil
}

// discover extracts the links of every frontier page in parallel and
// returns the sorted same-site paths not visited yet, marking them visited.
func (r *siteRun) discover(ctx context.Context, frontier []domain.Page) ([]string, error) {
	found := make([][]string, len(frontier))
	tasks := make([]*worker.Task, 0, len(frontier))
	for i, page := range frontier {
		if !page.OK() || page.Content == "" {
			continue
		}
		tasks = append(tasks, r.pool.Submit(ctx, "links "+page.Path, func(ctx context.Context) error {
			found[i] = r.links(ctx, page)
			return nil
		}))
	}
	if err := waitAll(tasks); err != nil {
		return nil, err
	}

	var paths []string
	for _, links := range found {
		for _, p := range links {
			if r.visited[p] {
				continue
			}
			if limit := r.o.opts.MaxPagesPerSite; limit > 0 && len(r.visited) >= limit {
				break
			}
			r.visited[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// links returns the crawlable paths under the site root linked from page.
func (r *siteRun) links(ctx context.Context, page domain.Page) []string {
	var paths []string
	for _, link := range crawler.ExtractLinks(page.Content, pageURL(r.site, page.Path)) {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		p := normalizePath(u)
		if !underRoot(r.root, p) {
			continue
		}
		if r.o.ignored[strings.ToLower(path.Ext(p))] {
			continue
		}
		if !r.o.fetcher.Allowed(ctx, pageURL(r.site, p)) {
			r.log.Debug("Path disallowed by robots.txt", "path", p)
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

// fetchAll fetches every path in parallel. Transport failures become pages
// with FetchFailedCode.
func (r *siteRun) fetchAll(ctx context.Context, paths []string) ([]domain.Page, error) {
	pages := make([]domain.Page, len(paths))
	tasks := make([]*worker.Task, len(paths))
	for i, p := range paths {
		tasks[i] = r.pool.Submit(ctx, "fetch "+p, func(ctx context.Context) error {
			page, err := r.o.fetchPage(ctx, r.site, p)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				r.log.Warn("Page fetch failed", "path", p, "error", err)
			}
			pages[i] = page
			return nil
		})
	}
	if err := waitAll(tasks); err != nil {
		return nil, err
	}
	return pages, nil
}

// persist stores pages in chunks and submits every stored page for
// indexing. It returns the stored pages.
func (r *siteRun) persist(ctx context.Context, pages []domain.Page) ([]domain.Page, error) {
	var stored []domain.Page
	for start := 0; start < len(pages); start += r.o.opts.PagesChunk {
		if err := ctx.Err(); err != nil {
			return nil, domain.ErrInterrupted
		}
		chunk := pages[start:min(start+r.o.opts.PagesChunk, len(pages))]
		inserted, err := r.o.store.BulkInsertPages(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, page := range inserted {
			r.indexing = append(r.indexing, r.pool.Submit(ctx, "index "+page.Path, func(ctx context.Context) error {
				return r.o.indexer.IndexPage(ctx, r.cache, page)
			}))
		}
		stored = append(stored, inserted...)
	}
	return stored, nil
}

func (r *siteRun) joinIndexing() error {
	err := waitAll(r.indexing)
	r.indexing = nil
	return err
}

// waitAll joins every task and returns the first error.
func waitAll(tasks []*worker.Task) error {
	var first error
	for _, t := range tasks {
		if err := t.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// normalizePath maps a URL to the stored page path: no query or fragment,
// "/" for the empty path, no trailing slash except on the root.
func normalizePath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}

// siteRoot splits a site URL into its origin and the normalized path the
// crawl starts from. Stored page paths are relative to the origin.
func siteRoot(site domain.Site) (origin, root string) {
	u, err := url.Parse(site.URL)
	if err != nil || u.Host == "" {
		return strings.TrimRight(site.URL, "/"), "/"
	}
	return u.Scheme + "://" + u.Host, normalizePath(u)
}

func underRoot(root, p string) bool {
	return root == "/" || p == root || strings.HasPrefix(p, root+"/")
}

func pageURL(site domain.Site, p string) string {
	origin, _ := siteRoot(site)
	return origin + p
}
