package statistics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
	"sitesearch/packages/sqlitedb"
	"sitesearch/packages/storetest"
)

type fixedActivity bool

func (a fixedActivity) Running() bool { return bool(a) }

func TestCollect(t *testing.T) {
	ctx := context.Background()
	s, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)

	a := storetest.MustSite(t, s, "https://a.example")
	b := storetest.MustSite(t, s, "https://b.example")
	if err := s.UpdateSiteStatus(ctx, a.ID, domain.Indexed, ""); err != nil {
		t.Fatalf("UpdateSiteStatus: %v", err)
	}
	if err := s.UpdateSiteStatus(ctx, b.ID, domain.Failed, "site root unreachable"); err != nil {
		t.Fatalf("UpdateSiteStatus: %v", err)
	}
	if _, err := s.BulkInsertPages(ctx, []domain.Page{
		{SiteID: a.ID, Path: "/", Code: 200},
		{SiteID: a.ID, Path: "/x", Code: 404},
		{SiteID: b.ID, Path: "/", Code: 200},
	}); err != nil {
		t.Fatalf("BulkInsertPages: %v", err)
	}
	if _, err := s.FindOrCreateLemmas(ctx, a.ID, []string{"cat", "dog", "mat"}); err != nil {
		t.Fatalf("FindOrCreateLemmas: %v", err)
	}

	resp, err := New(s, fixedActivity(false)).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	total := resp.Statistics.Total
	if !resp.Result || total.Sites != 2 || total.Pages != 3 || total.Lemmas != 3 || total.Indexing {
		t.Fatalf("total = %+v", total)
	}
	if len(resp.Statistics.Detailed) != 2 {
		t.Fatalf("detailed = %+v", resp.Statistics.Detailed)
	}
	first, second := resp.Statistics.Detailed[0], resp.Statistics.Detailed[1]
	if first.URL != a.URL || first.Pages != 2 || first.Lemmas != 3 || first.Status != domain.Indexed || first.StatusTime == 0 {
		t.Errorf("site a = %+v", first)
	}
	if second.URL != b.URL || second.Pages != 1 || second.Lemmas != 0 || second.Error != "site root unreachable" {
		t.Errorf("site b = %+v", second)
	}

	if got := testutil.ToFloat64(metrics.TotalPages); got != 3 {
		t.Errorf("pages gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.TotalLemmas); got != 3 {
		t.Errorf("lemmas gauge = %v, want 3", got)
	}

	resp, err = New(s, fixedActivity(true)).Collect(ctx)
	if err != nil || !resp.Statistics.Total.Indexing {
		t.Fatalf("running activity not reported: %+v, %v", resp, err)
	}
}

func TestCollectEmpty(t *testing.T) {
	ctx := context.Background()
	s, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)

	resp, err := New(s, nil).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Statistics.Total != (domain.TotalStatistics{}) || len(resp.Statistics.Detailed) != 0 {
		t.Fatalf("unexpected statistics %+v", resp.Statistics)
	}
}
