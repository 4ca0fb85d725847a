package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sitesearch/packages/domain"
	"sitesearch/packages/storetest"
)

// TestPostgresContract runs against a disposable database named by
// TEST_DATABASE_URL; every table is truncated between subtests.
func TestPostgresContract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	storage, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer storage.Close()

	storetest.Run(t, func(t *testing.T) domain.Store {
		if _, err := storage.DB.Exec(ctx, "TRUNCATE sites, pages, lemmas, search_index RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return storage
	})
}

func TestOpenSelectsSQLite(t *testing.T) {
	ctx := context.Background()
	for _, prefix := range []string{"sqlite://", "file:"} {
		backend, err := Open(ctx, prefix+filepath.Join(t.TempDir(), "open.db"))
		if err != nil {
			t.Fatalf("Open(%s): %v", prefix, err)
		}
		if _, ok := backend.(*Storage); ok {
			t.Fatalf("Open(%s) returned the Postgres backend", prefix)
		}
		if _, err := backend.ListSites(ctx); err != nil {
			t.Fatalf("ListSites on %s backend: %v", prefix, err)
		}
		backend.Close()
	}
}
