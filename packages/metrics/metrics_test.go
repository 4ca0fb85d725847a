package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveQueryRecordsSample(t *testing.T) {
	before := testutil.CollectAndCount(DBQueryDuration)
	ObserveQuery("metrics_test_query", time.Now().Add(-10*time.Millisecond))
	after := testutil.CollectAndCount(DBQueryDuration)
	if after != before+1 {
		t.Fatalf("expected a new query_name series, got %d -> %d", before, after)
	}
}

func TestCounters(t *testing.T) {
	PagesFetched.WithLabelValues("ok").Inc()
	if got := testutil.ToFloat64(PagesFetched.WithLabelValues("ok")); got < 1 {
		t.Fatalf("pages_fetched_total{result=ok} = %v", got)
	}
	CrawlRunsActive.Inc()
	CrawlRunsActive.Dec()
	if got := testutil.ToFloat64(CrawlRunsActive); got != 0 {
		t.Fatalf("crawl_runs_active = %v, want 0", got)
	}
}
