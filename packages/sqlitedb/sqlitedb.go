// Package sqlitedb is an embedded domain.Store backed by modernc.org/sqlite.
// It runs on a single connection, so every query result is read fully
// before the next statement is issued.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"sitesearch/packages/domain"

	_ "modernc.org/sqlite"
)

// maxVars keeps every statement well under SQLite's bound-parameter limit.
const maxVars = 900

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT    NOT NULL UNIQUE,
	name        TEXT    NOT NULL,
	status      TEXT    NOT NULL CHECK (status IN ('INDEXING', 'INDEXED', 'FAILED')),
	last_error  TEXT,
	status_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	path    TEXT    NOT NULL,
	code    INTEGER NOT NULL,
	content TEXT    NOT NULL,
	UNIQUE (site_id, path)
);

CREATE TABLE IF NOT EXISTS lemmas (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id   INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	lemma     TEXT    NOT NULL,
	frequency INTEGER NOT NULL DEFAULT 0,
	UNIQUE (site_id, lemma)
);

CREATE TABLE IF NOT EXISTS search_index (
	page_id  INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	lemma_id INTEGER NOT NULL REFERENCES lemmas(id) ON DELETE CASCADE,
	rank     REAL    NOT NULL,
	PRIMARY KEY (page_id, lemma_id)
);

CREATE INDEX IF NOT EXISTS idx_search_index_lemma ON search_index (lemma_id, page_id);
`

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  dbtx
	tx *sql.Tx
}

var _ domain.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	slog.Info("SQLite store ready", "path", path)
	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close sqlite database", "error", err)
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = domain.StorageError("commit transaction", cerr)
		}
	}()

	err = fn(&Store{db: s.db, q: tx, tx: tx})
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
