package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

const siteColumns = "id, url, name, status, last_error, status_time"

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (*domain.Site, error) {
	var site domain.Site
	var status string
	var lastError sql.NullString
	var statusTime int64
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &lastError, &statusTime); err != nil {
		return nil, err
	}
	site.Status = domain.SiteStatus(status)
	site.LastError = lastError.String
	site.StatusTime = time.UnixMilli(statusTime)
	return &site, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetSiteByURL(ctx context.Context, url string) (*domain.Site, error) {
	defer metrics.ObserveQuery("get_site_by_url", time.Now())
	site, err := scanSite(s.q.QueryRowContext(ctx, "SELECT "+siteColumns+" FROM sites WHERE url = ?", url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", url, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.StorageError("get site by url", err)
	}
	return site, nil
}

func (s *Store) UpsertSite(ctx context.Context, url, name string, status domain.SiteStatus) (*domain.Site, error) {
	defer metrics.ObserveQuery("upsert_site", time.Now())
	site, err := scanSite(s.q.QueryRowContext(ctx, `
		INSERT INTO sites (url, name, status, last_error, status_time) VALUES (?, ?, ?, NULL, ?)
		ON CONFLICT (url) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			last_error = NULL,
			status_time = excluded.status_time
		RETURNING `+siteColumns,
		url, name, string(status), time.Now().UnixMilli()))
	if err != nil {
		return nil, domain.StorageError("upsert site", err)
	}
	return site, nil
}

func (s *Store) UpdateSiteStatus(ctx context.Context, siteID int64, status domain.SiteStatus, lastError string) error {
	defer metrics.ObserveQuery("update_site_status", time.Now())
	res, err := s.q.ExecContext(ctx,
		"UPDATE sites SET status = ?, last_error = ?, status_time = ? WHERE id = ?",
		string(status), nullable(lastError), time.Now().UnixMilli(), siteID)
	if err != nil {
		return domain.StorageError("update site status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("site %d: %w", siteID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSite(ctx context.Context, siteID int64) error {
	defer metrics.ObserveQuery("delete_site", time.Now())
	if _, err := s.q.ExecContext(ctx, "DELETE FROM sites WHERE id = ?", siteID); err != nil {
		return domain.StorageError("delete site", err)
	}
	return nil
}

func (s *Store) ListSites(ctx context.Context) ([]domain.Site, error) {
	defer metrics.ObserveQuery("list_sites", time.Now())
	rows, err := s.q.QueryContext(ctx, "SELECT "+siteColumns+" FROM sites ORDER BY id")
	if err != nil {
		return nil, domain.StorageError("list sites", err)
	}
	defer rows.Close()

	var sites []domain.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, domain.StorageError("scan site", err)
		}
		sites = append(sites, *site)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list sites", err)
	}
	return sites, nil
}

func (s *Store) AnySiteWithStatus(ctx context.Context, status domain.SiteStatus) (bool, error) {
	defer metrics.ObserveQuery("any_site_with_status", time.Now())
	var exists bool
	err := s.q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sites WHERE status = ?)", string(status)).Scan(&exists)
	if err != nil {
		return false, domain.StorageError("any site with status", err)
	}
	return exists, nil
}

func (s *Store) ResetStalledSites(ctx context.Context, olderThan time.Duration, lastError string) (int64, error) {
	defer metrics.ObserveQuery("reset_stalled_sites", time.Now())
	now := time.Now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE sites SET status = ?, last_error = ?, status_time = ?
		WHERE status = ? AND status_time < ?`,
		string(domain.Failed), nullable(lastError), now.UnixMilli(),
		string(domain.Indexing), now.Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, domain.StorageError("reset stalled sites", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
