package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"sitesearch/packages/domain"
	"sitesearch/packages/search"
)

func TestKey(t *testing.T) {
	q := search.Query{Text: "cat", Site: "https://example.com", Offset: 0, Limit: 20}

	if Key(1, q) != Key(1, q) {
		t.Fatal("key is not deterministic")
	}
	if Key(1, q) == Key(2, q) {
		t.Fatal("generations must produce different keys")
	}
	variants := []search.Query{
		{Text: "dog", Site: q.Site, Limit: 20},
		{Text: "cat", Limit: 20},
		{Text: "cat", Site: q.Site, Offset: 20, Limit: 20},
		{Text: "cat", Site: q.Site, Limit: 10},
	}
	for _, v := range variants {
		if Key(1, v) == Key(1, q) {
			t.Errorf("Key(%+v) collides with Key(%+v)", v, q)
		}
	}
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), mr.Addr(), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func catResponse() *domain.SearchResponse {
	return &domain.SearchResponse{Result: true, Count: 1, Data: []domain.SearchResult{{
		Site: "https://example.com", SiteName: "Example", URI: "/", Title: "Cats",
		Snippet: "<b>cat</b>", Relevance: 1,
	}}}
}

func TestRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	q := search.Query{Text: "cat", Limit: 20}

	_, key, ok := c.Get(ctx, q)
	if ok {
		t.Fatal("empty cache reported a hit")
	}
	if key != Key(0, q) {
		t.Fatalf("miss key = %q, want generation 0 key", key)
	}

	c.Set(ctx, key, catResponse())
	got, _, ok := c.Get(ctx, q)
	if !ok || got.Count != 1 || got.Data[0].Snippet != "<b>cat</b>" {
		t.Fatalf("Get after Set = %+v, %v", got, ok)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("entry TTL = %v, want 1m", ttl)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, key, ok := c.Get(ctx, q); ok || key != Key(1, q) {
		t.Fatalf("after Invalidate: ok=%v key=%q, want miss under generation 1", ok, key)
	}
}

func TestInvalidateBetweenGetAndSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	q := search.Query{Text: "cat", Limit: 20}

	_, key, ok := c.Get(ctx, q)
	if ok {
		t.Fatal("empty cache reported a hit")
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	c.Set(ctx, key, catResponse())

	if got, _, ok := c.Get(ctx, q); ok {
		t.Fatalf("response computed before Invalidate served after it: %+v", got)
	}
}

func TestRedisDown(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	_, key, ok := c.Get(ctx, search.Query{Text: "cat", Limit: 20})
	if ok || key != "" {
		t.Fatalf("Get with Redis down = %q, %v; want empty miss", key, ok)
	}
	c.Set(ctx, key, catResponse())
	if err := c.Invalidate(ctx); err == nil {
		t.Fatal("Invalidate with Redis down returned nil")
	}
}
