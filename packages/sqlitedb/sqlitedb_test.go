package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"sitesearch/packages/domain"
	"sitesearch/packages/storetest"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "sitesearch.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestChunks(t *testing.T) {
	got := chunks([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Fatalf("chunks = %v", got)
	}
	if got := chunks([]int{}, 2); len(got) != 0 {
		t.Fatalf("chunks of empty = %v", got)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?,?,?" {
		t.Fatalf("placeholders(3) = %q", got)
	}
}
