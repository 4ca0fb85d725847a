package domain

import (
	"context"
	"time"
)

// Store is the storage gateway shared by the crawl orchestrator, the indexing
// pipeline and the search engine. Implementations return ErrNotFound for
// missing point lookups and wrap driver errors with ErrStorageFailure.
type Store interface {
	// WithTx runs fn against a Store bound to a single transaction. Nested
	// calls reuse the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetSiteByURL(ctx context.Context, url string) (*Site, error)
	UpsertSite(ctx context.Context, url, name string, status SiteStatus) (*Site, error)
	UpdateSiteStatus(ctx context.Context, siteID int64, status SiteStatus, lastError string) error
	DeleteSite(ctx context.Context, siteID int64) error
	ListSites(ctx context.Context) ([]Site, error)
	AnySiteWithStatus(ctx context.Context, status SiteStatus) (bool, error)
	// ResetStalledSites fails INDEXING sites whose status time is older than olderThan.
	ResetStalledSites(ctx context.Context, olderThan time.Duration, lastError string) (int64, error)

	FindPage(ctx context.Context, siteID int64, path string) (*Page, error)
	// BulkInsertPages inserts pages and returns the rows actually created, with
	// IDs set. Pages whose (site, path) already exists are skipped.
	BulkInsertPages(ctx context.Context, pages []Page) ([]Page, error)
	DeletePage(ctx context.Context, pageID int64) error
	GetPages(ctx context.Context, pageIDs []int64) ([]Page, error)
	// CountPages counts pages on the given sites; nil siteIDs means every site.
	CountPages(ctx context.Context, siteIDs []int64) (int, error)

	// FindOrCreateLemmas returns the catalogue id of every text for the site,
	// creating missing rows with frequency 0.
	FindOrCreateLemmas(ctx context.Context, siteID int64, texts []string) (map[string]int64, error)
	BulkUpdateLemmaFrequency(ctx context.Context, deltas []LemmaDelta) error
	// FindLemmasBySitesAndText returns the catalogue rows of text on the given
	// sites; nil siteIDs means every site.
	FindLemmasBySitesAndText(ctx context.Context, siteIDs []int64, text string) ([]Lemma, error)
	FindLemmaIDsByPage(ctx context.Context, pageID int64) ([]int64, error)
	CountLemmas(ctx context.Context, siteID int64) (int, error)

	BulkInsertIndexRows(ctx context.Context, rows []IndexRow) error
	// FindIndexByPagesAndLemmas returns rows ordered by page id then lemma id.
	// A nil pageIDs slice means no page restriction.
	FindIndexByPagesAndLemmas(ctx context.Context, pageIDs, lemmaIDs []int64) ([]IndexRow, error)
}
