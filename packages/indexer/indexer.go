// Package indexer turns stored pages into inverted-index rows and keeps the
// per-site lemma frequencies in step with them.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sitesearch/packages/crawler"
	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

type Lemmatizer interface {
	Lemmatize(text string) map[string]int
}

type Indexer struct {
	store     domain.Store
	morph     Lemmatizer
	batchSize int
}

func New(store domain.Store, morph Lemmatizer, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Indexer{store: store, morph: morph, batchSize: batchSize}
}

// LemmaCache maps lemma text to catalogue id for one site during one run.
type LemmaCache struct {
	siteID int64
	ids    sync.Map
}

func NewLemmaCache(siteID int64) *LemmaCache {
	return &LemmaCache{siteID: siteID}
}

// Resolve returns the catalogue id for every text, creating missing lemmas.
func (c *LemmaCache) Resolve(ctx context.Context, store domain.Store, texts []string) (map[string]int64, error) {
	out := make(map[string]int64, len(texts))
	var missing []string
	for _, text := range texts {
		if id, ok := c.ids.Load(text); ok {
			out[text] = id.(int64)
		} else {
			missing = append(missing, text)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	created, err := store.FindOrCreateLemmas(ctx, c.siteID, missing)
	if err != nil {
		return nil, err
	}
	for _, text := range missing {
		id, ok := created[text]
		if !ok {
			return nil, fmt.Errorf("lemma %q was not resolved: %w", text, domain.ErrStorageFailure)
		}
		actual, _ := c.ids.LoadOrStore(text, id)
		out[text] = actual.(int64)
	}
	return out, nil
}

func (c *LemmaCache) Len() int {
	n := 0
	c.ids.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IndexPage writes one index row per lemma of the page and bumps each
// lemma's frequency by one, in a single transaction. Pages without a 2xx
// status contribute nothing.
func (ix *Indexer) IndexPage(ctx context.Context, cache *LemmaCache, page domain.Page) error {
	if !page.OK() || page.Content == "" {
		slog.Debug("Skipping page without indexable content", "page_id", page.ID, "path", page.Path, "code", page.Code)
		return nil
	}
	start := time.Now()
	if cache == nil {
		cache = NewLemmaCache(page.SiteID)
	}

	counts := ix.morph.Lemmatize(crawler.ExtractVisibleText(page.Content))
	if len(counts) == 0 {
		return nil
	}
	texts := make([]string, 0, len(counts))
	for text := range counts {
		texts = append(texts, text)
	}
	sort.Strings(texts)

	ids, err := cache.Resolve(ctx, ix.store, texts)
	if err != nil {
		return fmt.Errorf("resolve lemmas for page %d: %w", page.ID, err)
	}

	rows := make([]domain.IndexRow, 0, len(texts))
	deltas := make([]domain.LemmaDelta, 0, len(texts))
	for _, text := range texts {
		rows = append(rows, domain.IndexRow{PageID: page.ID, LemmaID: ids[text], Rank: float64(counts[text])})
		deltas = append(deltas, domain.LemmaDelta{LemmaID: ids[text], Delta: 1})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	err = ix.store.WithTx(ctx, func(tx domain.Store) error {
		for i := 0; i < len(rows); i += ix.batchSize {
			if err := tx.BulkInsertIndexRows(ctx, rows[i:min(i+ix.batchSize, len(rows))]); err != nil {
				return err
			}
		}
		return tx.BulkUpdateLemmaFrequency(ctx, deltas)
	})
	if err != nil {
		return fmt.Errorf("index page %d: %w", page.ID, err)
	}

	metrics.PagesIndexed.Inc()
	metrics.PageIndexDuration.Observe(time.Since(start).Seconds())
	slog.Debug("Indexed page", "page_id", page.ID, "path", page.Path, "lemmas", len(rows))
	return nil
}

// RetractPage removes the page's contribution to every lemma frequency and
// deletes the page together with its index rows.
func (ix *Indexer) RetractPage(ctx context.Context, page domain.Page) error {
	err := ix.store.WithTx(ctx, func(tx domain.Store) error {
		lemmaIDs, err := tx.FindLemmaIDsByPage(ctx, page.ID)
		if err != nil {
			return err
		}
		deltas := make([]domain.LemmaDelta, len(lemmaIDs))
		for i, id := range lemmaIDs {
			deltas[i] = domain.LemmaDelta{LemmaID: id, Delta: -1}
		}
		if err := tx.BulkUpdateLemmaFrequency(ctx, deltas); err != nil {
			return err
		}
		return tx.DeletePage(ctx, page.ID)
	})
	if err != nil {
		return fmt.Errorf("retract page %d: %w", page.ID, err)
	}
	return nil
}
