// Package search answers free-text queries against the lemma index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"sitesearch/packages/crawler"
	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

type Morphology interface {
	Lemmatize(text string) map[string]int
	NormalForms(word string) []string
}

// Cache stores finished responses keyed by normalized query. Get hands out
// the key a miss must be filled under; an empty key disables the store.
type Cache interface {
	Get(ctx context.Context, q Query) (resp *domain.SearchResponse, key string, ok bool)
	Set(ctx context.Context, key string, resp *domain.SearchResponse)
}

type Options struct {
	DefaultLimit int
	// FrequencyCutoff drops query lemmas found on more than this share of the
	// scoped pages. Zero disables the filter.
	FrequencyCutoff float64
}

type Query struct {
	Text   string
	Site   string
	Offset int
	Limit  int
}

type Engine struct {
	store domain.Store
	morph Morphology
	opts  Options
	cache Cache
}

// New builds an engine. cache may be nil.
func New(store domain.Store, morph Morphology, opts Options, cache Cache) *Engine {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	return &Engine{store: store, morph: morph, opts: opts, cache: cache}
}

// queryLemma is one distinct query lemma with its catalogue rows across the
// scoped sites.
type queryLemma struct {
	text      string
	frequency int
	ids       []int64
}

func (e *Engine) Search(ctx context.Context, q Query) (*domain.SearchResponse, error) {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, domain.ErrEmptyQuery
	}
	q.Site = strings.TrimRight(strings.TrimSpace(q.Site), "/")
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = e.opts.DefaultLimit
	}

	sites, err := e.scope(ctx, q.Site)
	if err != nil {
		return nil, err
	}

	var key string
	if e.cache != nil {
		resp, k, ok := e.cache.Get(ctx, q)
		if ok {
			return resp, nil
		}
		key = k
	}

	resp, err := e.search(ctx, q, sites)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, key, resp)
	}
	return resp, nil
}

func (e *Engine) scope(ctx context.Context, siteURL string) (map[int64]domain.Site, error) {
	sites := make(map[int64]domain.Site)
	if siteURL != "" {
		site, err := e.store.GetSiteByURL(ctx, siteURL)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSite, siteURL)
		}
		if err != nil {
			return nil, err
		}
		sites[site.ID] = *site
		return sites, nil
	}
	all, err := e.store.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	for _, site := range all {
		sites[site.ID] = site
	}
	return sites, nil
}

func emptyResponse() *domain.SearchResponse {
	return &domain.SearchResponse{Result: true, Count: 0, Data: []domain.SearchResult{}}
}

func (e *Engine) search(ctx context.Context, q Query, sites map[int64]domain.Site) (*domain.SearchResponse, error) {
	if len(sites) == 0 {
		return emptyResponse(), nil
	}
	siteIDs := make([]int64, 0, len(sites))
	for id := range sites {
		siteIDs = append(siteIDs, id)
	}
	sort.Slice(siteIDs, func(i, j int) bool { return siteIDs[i] < siteIDs[j] })

	lemmas, err := e.resolveLemmas(ctx, q.Text, siteIDs)
	if err != nil {
		return nil, err
	}
	if len(lemmas) == 0 {
		return emptyResponse(), nil
	}

	allIDs := make([]int64, 0)
	lemmaSet := make(map[string]bool, len(lemmas))
	for _, l := range lemmas {
		allIDs = append(allIDs, l.ids...)
		lemmaSet[l.text] = true
	}

	narrowing, err := e.applyCutoff(ctx, lemmas, siteIDs)
	if err != nil {
		return nil, err
	}
	candidates, err := e.narrow(ctx, narrowing)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return emptyResponse(), nil
	}

	relevance, err := e.rank(ctx, candidates, allIDs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return relevance[candidates[i]] > relevance[candidates[j]]
	})

	count := len(candidates)
	if q.Offset >= count {
		return &domain.SearchResponse{Result: true, Count: count, Data: []domain.SearchResult{}}, nil
	}
	end := count
	if q.Limit < count-q.Offset {
		end = q.Offset + q.Limit
	}
	pageIDs := candidates[q.Offset:end]

	pages, err := e.store.GetPages(ctx, pageIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Page, len(pages))
	for _, p := range pages {
		byID[p.ID] = p
	}

	data := make([]domain.SearchResult, 0, len(pageIDs))
	for _, id := range pageIDs {
		page, ok := byID[id]
		if !ok {
			slog.Warn("Search candidate vanished before rendering", "page_id", id)
			continue
		}
		site := sites[page.SiteID]
		data = append(data, domain.SearchResult{
			Site:      site.URL,
			SiteName:  site.Name,
			URI:       page.Path,
			Title:     crawler.ExtractTitle(page.Content),
			Snippet:   Snippet(page.Content, lemmaSet, e.morph),
			Relevance: relevance[id],
		})
	}
	return &domain.SearchResponse{Result: true, Count: count, Data: data}, nil
}

// resolveLemmas returns the query lemmas present on the scoped sites, rarest first.
func (e *Engine) resolveLemmas(ctx context.Context, text string, siteIDs []int64) ([]queryLemma, error) {
	counts := e.morph.Lemmatize(text)
	texts := make([]string, 0, len(counts))
	for t := range counts {
		texts = append(texts, t)
	}
	sort.Strings(texts)

	var lemmas []queryLemma
	for _, t := range texts {
		rows, err := e.store.FindLemmasBySitesAndText(ctx, siteIDs, t)
		if err != nil {
			return nil, err
		}
		l := queryLemma{text: t}
		for _, row := range rows {
			if row.Frequency <= 0 {
				continue
			}
			l.frequency += row.Frequency
			l.ids = append(l.ids, row.ID)
		}
		if l.frequency == 0 {
			continue
		}
		lemmas = append(lemmas, l)
	}
	sort.SliceStable(lemmas, func(i, j int) bool { return lemmas[i].frequency < lemmas[j].frequency })
	return lemmas, nil
}

// applyCutoff drops lemmas that occur on too many pages; the rarest lemma is
// always kept.
func (e *Engine) applyCutoff(ctx context.Context, lemmas []queryLemma, siteIDs []int64) ([]queryLemma, error) {
	if e.opts.FrequencyCutoff <= 0 || len(lemmas) < 2 {
		return lemmas, nil
	}
	total, err := e.store.CountPages(ctx, siteIDs)
	if err != nil {
		return nil, err
	}
	limit := e.opts.FrequencyCutoff * float64(total)
	kept := lemmas[:1]
	for _, l := range lemmas[1:] {
		if float64(l.frequency) <= limit {
			kept = append(kept, l)
		}
	}
	return kept, nil
}

// narrow intersects the page sets of the lemmas, starting from the rarest.
// The result keeps index storage order (ascending page id).
func (e *Engine) narrow(ctx context.Context, lemmas []queryLemma) ([]int64, error) {
	var candidates []int64
	for i, l := range lemmas {
		var restrict []int64
		if i > 0 {
			restrict = candidates
		}
		rows, err := e.store.FindIndexByPagesAndLemmas(ctx, restrict, l.ids)
		if err != nil {
			return nil, err
		}
		candidates = distinctPages(rows)
		if len(candidates) == 0 {
			return nil, nil
		}
	}
	return candidates, nil
}

func distinctPages(rows []domain.IndexRow) []int64 {
	var pages []int64
	for i, r := range rows {
		if i == 0 || r.PageID != rows[i-1].PageID {
			pages = append(pages, r.PageID)
		}
	}
	return pages
}

// rank sums the rank of every query lemma on each candidate page and
// normalizes by the best page.
func (e *Engine) rank(ctx context.Context, candidates, lemmaIDs []int64) (map[int64]float64, error) {
	rows, err := e.store.FindIndexByPagesAndLemmas(ctx, candidates, lemmaIDs)
	if err != nil {
		return nil, err
	}
	absolute := make(map[int64]float64, len(candidates))
	maxRel := 0.0
	for _, r := range rows {
		absolute[r.PageID] += r.Rank
	}
	for _, v := range absolute {
		maxRel = max(maxRel, v)
	}
	relevance := make(map[int64]float64, len(candidates))
	for _, id := range candidates {
		if maxRel > 0 {
			relevance[id] = absolute[id] / maxRel
		} else {
			relevance[id] = 0
		}
	}
	return relevance, nil
}
