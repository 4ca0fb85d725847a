// Package db
package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sitesearch/packages/domain"
	"sitesearch/packages/sqlitedb"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaLockID serializes schema creation between processes sharing a database.
const schemaLockID = 7_340_112

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT        NOT NULL UNIQUE,
	name        TEXT        NOT NULL,
	status      TEXT        NOT NULL CHECK (status IN ('INDEXING', 'INDEXED', 'FAILED')),
	last_error  TEXT,
	status_time TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pages (
	id      BIGSERIAL PRIMARY KEY,
	site_id BIGINT  NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	path    TEXT    NOT NULL,
	code    INTEGER NOT NULL,
	content TEXT    NOT NULL,
	UNIQUE (site_id, path)
);

CREATE TABLE IF NOT EXISTS lemmas (
	id        BIGSERIAL PRIMARY KEY,
	site_id   BIGINT  NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	lemma     TEXT    NOT NULL,
	frequency INTEGER NOT NULL DEFAULT 0,
	UNIQUE (site_id, lemma)
);

CREATE TABLE IF NOT EXISTS search_index (
	page_id  BIGINT           NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	lemma_id BIGINT           NOT NULL REFERENCES lemmas(id) ON DELETE CASCADE,
	rank     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (page_id, lemma_id)
);

CREATE INDEX IF NOT EXISTS idx_search_index_lemma ON search_index (lemma_id, page_id);
CREATE INDEX IF NOT EXISTS idx_sites_status ON sites (status);
`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Storage is the Postgres implementation of domain.Store.
type Storage struct {
	DB *pgxpool.Pool
	q  dbtx
	tx pgx.Tx
}

var _ domain.Store = (*Storage)(nil)

// Backend is a Store that owns its connections.
type Backend interface {
	domain.Store
	Close()
}

// Open picks the backend from the URL scheme: sqlite://path and file:path
// open the embedded store, anything else is handed to pgx.
func Open(ctx context.Context, databaseURL string) (Backend, error) {
	var path string
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path = strings.TrimPrefix(databaseURL, "sqlite://")
	case strings.HasPrefix(databaseURL, "file:"):
		path = strings.TrimPrefix(databaseURL, "file:")
	default:
		storage, err := New(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return storage, nil
	}
	store, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func New(ctx context.Context, databaseURL string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	s := &Storage{DB: pool, q: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Postgres store ready", "max_conns", pool.Config().MaxConns)
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	return s.WithTx(ctx, func(tx domain.Store) error {
		q := tx.(*Storage).q
		if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockID); err != nil {
			return fmt.Errorf("failed to take schema lock: %w", err)
		}
		if _, err := q.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}

func (s *Storage) Close() {
	s.DB.Close()
}

// WithTx runs fn on a Storage bound to one transaction; nested calls join it.
func (s *Storage) WithTx(ctx context.Context, fn func(tx domain.Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.StorageError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else if cerr := tx.Commit(ctx); cerr != nil {
			err = domain.StorageError("commit transaction", cerr)
		}
	}()

	err = fn(&Storage{DB: s.DB, q: tx, tx: tx})
	return err
}
