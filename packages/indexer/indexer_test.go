package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"sitesearch/packages/domain"
	"sitesearch/packages/morph"
	"sitesearch/packages/sqlitedb"
	"sitesearch/packages/storetest"
)

func newStore(t *testing.T) *sqlitedb.Store {
	t.Helper()
	s, err := sqlitedb.Open(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func insertPages(t *testing.T, s domain.Store, siteID int64, bodies map[string]string) map[string]domain.Page {
	t.Helper()
	var pages []domain.Page
	for path, body := range bodies {
		pages = append(pages, domain.Page{SiteID: siteID, Path: path, Code: 200, Content: body})
	}
	inserted, err := s.BulkInsertPages(context.Background(), pages)
	if err != nil {
		t.Fatalf("BulkInsertPages: %v", err)
	}
	out := make(map[string]domain.Page, len(inserted))
	for _, p := range inserted {
		out[p.Path] = p
	}
	return out
}

// checkFrequencies asserts that each lemma's frequency equals the number of
// index rows referencing it.
func checkFrequencies(t *testing.T, s domain.Store, siteID int64, texts ...string) map[string]int {
	t.Helper()
	ctx := context.Background()
	got := make(map[string]int)
	for _, text := range texts {
		lemmas, err := s.FindLemmasBySitesAndText(ctx, []int64{siteID}, text)
		if err != nil {
			t.Fatalf("FindLemmasBySitesAndText(%s): %v", text, err)
		}
		if len(lemmas) > 1 {
			t.Fatalf("lemma %q has %d catalogue rows", text, len(lemmas))
		}
		if len(lemmas) == 0 {
			continue
		}
		rows, err := s.FindIndexByPagesAndLemmas(ctx, nil, []int64{lemmas[0].ID})
		if err != nil {
			t.Fatalf("FindIndexByPagesAndLemmas: %v", err)
		}
		if lemmas[0].Frequency != len(rows) {
			t.Fatalf("lemma %q: frequency %d, index rows %d", text, lemmas[0].Frequency, len(rows))
		}
		got[text] = lemmas[0].Frequency
	}
	return got
}

func TestIndexPage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	site := storetest.MustSite(t, s, "https://example.com")
	ix := New(s, morph.New("english"), 2)
	cache := NewLemmaCache(site.ID)

	pages := insertPages(t, s, site.ID, map[string]string{
		"/p1": "<html><body><p>cat sat on mat</p><script>dog</script></body></html>",
		"/p2": "<html><body><p>dog ran, cat cat</p></body></html>",
	})
	for _, p := range pages {
		if err := ix.IndexPage(ctx, cache, p); err != nil {
			t.Fatalf("IndexPage(%s): %v", p.Path, err)
		}
	}

	freq := checkFrequencies(t, s, site.ID, "cat", "sat", "mat", "dog", "ran")
	want := map[string]int{"cat": 2, "sat": 1, "mat": 1, "dog": 1, "ran": 1}
	for text, n := range want {
		if freq[text] != n {
			t.Errorf("frequency(%s) = %d, want %d", text, freq[text], n)
		}
	}

	cat, _ := s.FindLemmasBySitesAndText(ctx, []int64{site.ID}, "cat")
	rows, _ := s.FindIndexByPagesAndLemmas(ctx, []int64{pages["/p2"].ID}, []int64{cat[0].ID})
	if len(rows) != 1 || rows[0].Rank != 2 {
		t.Fatalf("rank of cat on /p2 = %+v, want 2", rows)
	}
	if cache.Len() != 5 {
		t.Errorf("cache holds %d lemmas, want 5", cache.Len())
	}

	if err := ix.IndexPage(ctx, cache, pages["/p1"]); err == nil {
		t.Fatal("indexing the same page twice must fail")
	}
	checkFrequencies(t, s, site.ID, "cat", "sat", "mat")
}

func TestIndexPageSkipsFailedFetches(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	site := storetest.MustSite(t, s, "https://example.com")
	ix := New(s, morph.New("english"), 100)

	inserted, err := s.BulkInsertPages(ctx, []domain.Page{
		{SiteID: site.ID, Path: "/404", Code: 404, Content: "<p>cat</p>"},
		{SiteID: site.ID, Path: "/down", Code: domain.FetchFailedCode},
	})
	if err != nil {
		t.Fatalf("BulkInsertPages: %v", err)
	}
	for _, p := range inserted {
		if err := ix.IndexPage(ctx, nil, p); err != nil {
			t.Fatalf("IndexPage(%s): %v", p.Path, err)
		}
	}
	if n, _ := s.CountLemmas(ctx, site.ID); n != 0 {
		t.Fatalf("non-2xx pages created %d lemmas", n)
	}
}

func TestRetractPage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	site := storetest.MustSite(t, s, "https://example.com")
	ix := New(s, morph.New("english"), 100)
	cache := NewLemmaCache(site.ID)

	pages := insertPages(t, s, site.ID, map[string]string{
		"/p1": "<p>cat sat on mat</p>",
		"/p2": "<p>cat and dog</p>",
	})
	for _, p := range pages {
		if err := ix.IndexPage(ctx, cache, p); err != nil {
			t.Fatalf("IndexPage: %v", err)
		}
	}

	if err := ix.RetractPage(ctx, pages["/p1"]); err != nil {
		t.Fatalf("RetractPage: %v", err)
	}
	freq := checkFrequencies(t, s, site.ID, "cat", "sat", "mat", "dog")
	if freq["cat"] != 1 || freq["sat"] != 0 || freq["mat"] != 0 || freq["dog"] != 1 {
		t.Fatalf("frequencies after retract = %v", freq)
	}
	if _, err := s.FindPage(ctx, site.ID, "/p1"); err == nil {
		t.Fatal("retracted page still stored")
	}

	readded := insertPages(t, s, site.ID, map[string]string{"/p1": "<p>mat mat</p>"})
	if err := ix.IndexPage(ctx, NewLemmaCache(site.ID), readded["/p1"]); err != nil {
		t.Fatalf("IndexPage after retract: %v", err)
	}
	freq = checkFrequencies(t, s, site.ID, "cat", "mat")
	if freq["mat"] != 1 || freq["cat"] != 1 {
		t.Fatalf("frequencies after re-add = %v", freq)
	}
}

func TestConcurrentIndexingKeepsFrequencies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	site := storetest.MustSite(t, s, "https://example.com")
	ix := New(s, morph.New("english"), 3)
	cache := NewLemmaCache(site.ID)

	bodies := make(map[string]string)
	for i := 0; i < 20; i++ {
		bodies[fmt.Sprintf("/p%d", i)] = fmt.Sprintf("<p>shared words, unique%c%c token</p>", 'a'+i%26, 'a'+i/26)
	}
	pages := insertPages(t, s, site.ID, bodies)

	var wg sync.WaitGroup
	errs := make(chan error, len(pages))
	for _, p := range pages {
		wg.Add(1)
		go func(p domain.Page) {
			defer wg.Done()
			errs <- ix.IndexPage(ctx, cache, p)
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("IndexPage: %v", err)
		}
	}

	freq := checkFrequencies(t, s, site.ID, "share", "word", "token")
	for text, n := range freq {
		if n != len(pages) {
			t.Errorf("frequency(%s) = %d, want %d", text, n, len(pages))
		}
	}
	if len(freq) != 3 {
		t.Errorf("expected 3 shared lemmas, got %v", freq)
	}
}

func TestIndexPageHonoursCancellation(t *testing.T) {
	s := newStore(t)
	site := storetest.MustSite(t, s, "https://example.com")
	ix := New(s, morph.New("english"), 100)
	pages := insertPages(t, s, site.ID, map[string]string{"/": "<p>cat</p>"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ix.IndexPage(ctx, nil, pages["/"]); err == nil {
		t.Fatal("expected an error on canceled context")
	}
	rows, _ := s.FindLemmaIDsByPage(context.Background(), pages["/"].ID)
	if len(rows) != 0 {
		t.Fatalf("canceled indexing wrote %d rows", len(rows))
	}
}
