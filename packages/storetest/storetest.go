// Package storetest holds the behavioural contract every domain.Store
// backend must satisfy, shared by the backend test suites.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sitesearch/packages/domain"
)

// Run executes the contract against stores produced by newStore. Each call
// of newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) domain.Store) {
	t.Run("Sites", func(t *testing.T) { testSites(t, newStore(t)) })
	t.Run("Pages", func(t *testing.T) { testPages(t, newStore(t)) })
	t.Run("Lemmas", func(t *testing.T) { testLemmas(t, newStore(t)) })
	t.Run("ConcurrentLemmaCreation", func(t *testing.T) { testConcurrentLemmas(t, newStore(t)) })
	t.Run("IndexRows", func(t *testing.T) { testIndexRows(t, newStore(t)) })
	t.Run("Cascade", func(t *testing.T) { testCascade(t, newStore(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

// MustSite creates a site or fails the test.
func MustSite(t *testing.T, s domain.Store, url string) *domain.Site {
	t.Helper()
	site, err := s.UpsertSite(context.Background(), url, "Site "+url, domain.Indexing)
	if err != nil {
		t.Fatalf("UpsertSite(%s): %v", url, err)
	}
	return site
}

func testSites(t *testing.T, s domain.Store) {
	ctx := context.Background()

	if _, err := s.GetSiteByURL(ctx, "https://missing.example"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetSiteByURL on missing site = %v, want ErrNotFound", err)
	}

	site := MustSite(t, s, "https://a.example")
	if site.ID == 0 || site.Status != domain.Indexing || site.StatusTime.IsZero() {
		t.Fatalf("unexpected site %+v", site)
	}

	again, err := s.UpsertSite(ctx, "https://a.example", "Renamed", domain.Indexing)
	if err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}
	if again.ID != site.ID || again.Name != "Renamed" {
		t.Fatalf("upsert should update in place, got %+v", again)
	}

	running, err := s.AnySiteWithStatus(ctx, domain.Indexing)
	if err != nil || !running {
		t.Fatalf("AnySiteWithStatus(INDEXING) = %v, %v", running, err)
	}

	if err := s.UpdateSiteStatus(ctx, site.ID, domain.Failed, "boom"); err != nil {
		t.Fatalf("UpdateSiteStatus: %v", err)
	}
	got, err := s.GetSiteByURL(ctx, "https://a.example")
	if err != nil {
		t.Fatalf("GetSiteByURL: %v", err)
	}
	if got.Status != domain.Failed || got.LastError != "boom" {
		t.Fatalf("status not updated: %+v", got)
	}
	if err := s.UpdateSiteStatus(ctx, site.ID+1000, domain.Indexed, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateSiteStatus on missing site = %v, want ErrNotFound", err)
	}

	stalled := MustSite(t, s, "https://b.example")
	n, err := s.ResetStalledSites(ctx, -time.Minute, "stalled")
	if err != nil || n != 1 {
		t.Fatalf("ResetStalledSites = %d, %v; want 1", n, err)
	}
	got, _ = s.GetSiteByURL(ctx, stalled.URL)
	if got.Status != domain.Failed || got.LastError != "stalled" {
		t.Fatalf("stalled site not reset: %+v", got)
	}
	if n, _ := s.ResetStalledSites(ctx, time.Hour, "stalled"); n != 0 {
		t.Fatalf("ResetStalledSites with fresh sites reset %d", n)
	}

	sites, err := s.ListSites(ctx)
	if err != nil || len(sites) != 2 {
		t.Fatalf("ListSites = %d sites, %v", len(sites), err)
	}
	running, _ = s.AnySiteWithStatus(ctx, domain.Indexing)
	if running {
		t.Fatal("no site should be INDEXING")
	}
}

func testPages(t *testing.T, s domain.Store) {
	ctx := context.Background()
	site := MustSite(t, s, "https://pages.example")

	inserted, err := s.BulkInsertPages(ctx, []domain.Page{
		{SiteID: site.ID, Path: "/", Code: 200, Content: "<p>root</p>"},
		{SiteID: site.ID, Path: "/a", Code: 404, Content: ""},
	})
	if err != nil {
		t.Fatalf("BulkInsertPages: %v", err)
	}
	if len(inserted) != 2 || inserted[0].ID == 0 || inserted[0].Content != "<p>root</p>" {
		t.Fatalf("unexpected inserted pages %+v", inserted)
	}

	dup, err := s.BulkInsertPages(ctx, []domain.Page{
		{SiteID: site.ID, Path: "/", Code: 200, Content: "other"},
		{SiteID: site.ID, Path: "/b", Code: 200, Content: "b"},
	})
	if err != nil {
		t.Fatalf("BulkInsertPages with duplicate: %v", err)
	}
	if len(dup) != 1 || dup[0].Path != "/b" {
		t.Fatalf("duplicate (site, path) must be skipped, got %+v", dup)
	}

	page, err := s.FindPage(ctx, site.ID, "/")
	if err != nil || page.Content != "<p>root</p>" {
		t.Fatalf("FindPage = %+v, %v", page, err)
	}
	if _, err := s.FindPage(ctx, site.ID, "/nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("FindPage on missing path = %v", err)
	}

	pages, err := s.GetPages(ctx, []int64{inserted[1].ID, inserted[0].ID})
	if err != nil || len(pages) != 2 || pages[0].ID != inserted[0].ID {
		t.Fatalf("GetPages = %+v, %v", pages, err)
	}

	if n, err := s.CountPages(ctx, []int64{site.ID}); err != nil || n != 3 {
		t.Fatalf("CountPages = %d, %v", n, err)
	}
	if err := s.DeletePage(ctx, inserted[1].ID); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if n, _ := s.CountPages(ctx, nil); n != 2 {
		t.Fatalf("CountPages after delete = %d", n)
	}
}

func testLemmas(t *testing.T, s domain.Store) {
	ctx := context.Background()
	site := MustSite(t, s, "https://lemmas.example")
	other := MustSite(t, s, "https://other.example")

	ids, err := s.FindOrCreateLemmas(ctx, site.ID, []string{"cat", "dog", "cat"})
	if err != nil || len(ids) != 2 {
		t.Fatalf("FindOrCreateLemmas = %v, %v", ids, err)
	}
	again, err := s.FindOrCreateLemmas(ctx, site.ID, []string{"dog", "mat"})
	if err != nil {
		t.Fatalf("FindOrCreateLemmas: %v", err)
	}
	if again["dog"] != ids["dog"] {
		t.Fatalf("existing lemma got a new id: %d != %d", again["dog"], ids["dog"])
	}
	otherIDs, err := s.FindOrCreateLemmas(ctx, other.ID, []string{"cat"})
	if err != nil || otherIDs["cat"] == ids["cat"] {
		t.Fatalf("lemmas must be per site: %v, %v", otherIDs, err)
	}

	err = s.BulkUpdateLemmaFrequency(ctx, []domain.LemmaDelta{
		{LemmaID: ids["cat"], Delta: 1},
		{LemmaID: ids["cat"], Delta: 1},
		{LemmaID: ids["dog"], Delta: 1},
		{LemmaID: otherIDs["cat"], Delta: 1},
	})
	if err != nil {
		t.Fatalf("BulkUpdateLemmaFrequency: %v", err)
	}
	if err := s.BulkUpdateLemmaFrequency(ctx, []domain.LemmaDelta{{LemmaID: ids["cat"], Delta: -1}}); err != nil {
		t.Fatalf("BulkUpdateLemmaFrequency(-1): %v", err)
	}

	found, err := s.FindLemmasBySitesAndText(ctx, []int64{site.ID}, "cat")
	if err != nil || len(found) != 1 || found[0].Frequency != 1 {
		t.Fatalf("FindLemmasBySitesAndText = %+v, %v", found, err)
	}
	all, err := s.FindLemmasBySitesAndText(ctx, nil, "cat")
	if err != nil || len(all) != 2 {
		t.Fatalf("FindLemmasBySitesAndText(all sites) = %+v, %v", all, err)
	}
	if n, err := s.CountLemmas(ctx, site.ID); err != nil || n != 3 {
		t.Fatalf("CountLemmas = %d, %v", n, err)
	}
}

func testConcurrentLemmas(t *testing.T, s domain.Store) {
	ctx := context.Background()
	site := MustSite(t, s, "https://race.example")
	texts := make([]string, 50)
	for i := range texts {
		texts[i] = fmt.Sprintf("word%02d", i)
	}

	var wg sync.WaitGroup
	results := make([]map[string]int64, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.FindOrCreateLemmas(ctx, site.ID, texts)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		for _, text := range texts {
			if results[i][text] != results[0][text] {
				t.Fatalf("lemma %s resolved to different ids: %d vs %d", text, results[i][text], results[0][text])
			}
		}
	}
	if n, _ := s.CountLemmas(ctx, site.ID); n != len(texts) {
		t.Fatalf("CountLemmas = %d, want %d", n, len(texts))
	}
}

func testIndexRows(t *testing.T, s domain.Store) {
	ctx := context.Background()
	site := MustSite(t, s, "https://index.example")
	pages, err := s.BulkInsertPages(ctx, []domain.Page{
		{SiteID: site.ID, Path: "/1", Code: 200},
		{SiteID: site.ID, Path: "/2", Code: 200},
	})
	if err != nil {
		t.Fatalf("BulkInsertPages: %v", err)
	}
	ids, err := s.FindOrCreateLemmas(ctx, site.ID, []string{"cat", "dog"})
	if err != nil {
		t.Fatalf("FindOrCreateLemmas: %v", err)
	}
	p1, p2 := pages[0].ID, pages[1].ID
	cat, dog := ids["cat"], ids["dog"]

	err = s.BulkInsertIndexRows(ctx, []domain.IndexRow{
		{PageID: p2, LemmaID: cat, Rank: 1},
		{PageID: p1, LemmaID: dog, Rank: 3},
		{PageID: p1, LemmaID: cat, Rank: 2},
	})
	if err != nil {
		t.Fatalf("BulkInsertIndexRows: %v", err)
	}
	if err := s.BulkInsertIndexRows(ctx, []domain.IndexRow{{PageID: p1, LemmaID: cat, Rank: 5}}); err == nil {
		t.Fatal("duplicate (page, lemma) index row must be rejected")
	}

	rows, err := s.FindIndexByPagesAndLemmas(ctx, nil, []int64{cat})
	if err != nil || len(rows) != 2 || rows[0].PageID != p1 || rows[1].PageID != p2 {
		t.Fatalf("FindIndexByPagesAndLemmas(nil, cat) = %+v, %v", rows, err)
	}
	rows, err = s.FindIndexByPagesAndLemmas(ctx, []int64{p1}, []int64{cat, dog})
	if err != nil || len(rows) != 2 || rows[0].Rank != 2 || rows[1].Rank != 3 {
		t.Fatalf("FindIndexByPagesAndLemmas(p1, cat+dog) = %+v, %v", rows, err)
	}
	if rows, _ := s.FindIndexByPagesAndLemmas(ctx, []int64{}, []int64{cat}); len(rows) != 0 {
		t.Fatalf("empty page restriction must match nothing, got %+v", rows)
	}

	lemmaIDs, err := s.FindLemmaIDsByPage(ctx, p1)
	if err != nil || len(lemmaIDs) != 2 {
		t.Fatalf("FindLemmaIDsByPage = %v, %v", lemmaIDs, err)
	}
}

func testCascade(t *testing.T, s domain.Store) {
	ctx := context.Background()
	site := MustSite(t, s, "https://cascade.example")
	pages, _ := s.BulkInsertPages(ctx, []domain.Page{{SiteID: site.ID, Path: "/", Code: 200}})
	ids, _ := s.FindOrCreateLemmas(ctx, site.ID, []string{"cat"})
	if err := s.BulkInsertIndexRows(ctx, []domain.IndexRow{{PageID: pages[0].ID, LemmaID: ids["cat"], Rank: 1}}); err != nil {
		t.Fatalf("BulkInsertIndexRows: %v", err)
	}

	if err := s.DeletePage(ctx, pages[0].ID); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if rows, _ := s.FindIndexByPagesAndLemmas(ctx, nil, []int64{ids["cat"]}); len(rows) != 0 {
		t.Fatalf("index rows must cascade with the page, got %+v", rows)
	}

	if err := s.DeleteSite(ctx, site.ID); err != nil {
		t.Fatalf("DeleteSite: %v", err)
	}
	if n, _ := s.CountLemmas(ctx, site.ID); n != 0 {
		t.Fatalf("lemmas must cascade with the site, got %d", n)
	}
	if _, err := s.GetSiteByURL(ctx, site.URL); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted site still present: %v", err)
	}
}

func testRollback(t *testing.T, s domain.Store) {
	ctx := context.Background()
	site := MustSite(t, s, "https://tx.example")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx domain.Store) error {
		if _, err := tx.BulkInsertPages(ctx, []domain.Page{{SiteID: site.ID, Path: "/", Code: 200}}); err != nil {
			return err
		}
		return tx.WithTx(ctx, func(inner domain.Store) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx = %v, want boom", err)
	}
	if _, err := s.FindPage(ctx, site.ID, "/"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rolled back page is visible: %v", err)
	}

	err = s.WithTx(ctx, func(tx domain.Store) error {
		_, err := tx.BulkInsertPages(ctx, []domain.Page{{SiteID: site.ID, Path: "/", Code: 200}})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx commit: %v", err)
	}
	if _, err := s.FindPage(ctx, site.ID, "/"); err != nil {
		t.Fatalf("committed page missing: %v", err)
	}
}
