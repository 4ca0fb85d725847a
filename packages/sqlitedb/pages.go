package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

func (s *Store) FindPage(ctx context.Context, siteID int64, path string) (*domain.Page, error) {
	defer metrics.ObserveQuery("find_page", time.Now())
	var p domain.Page
	err := s.q.QueryRowContext(ctx,
		"SELECT id, site_id, path, code, content FROM pages WHERE site_id = ? AND path = ?", siteID, path,
	).Scan(&p.ID, &p.SiteID, &p.Path, &p.Code, &p.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.StorageError("find page", err)
	}
	return &p, nil
}

// BulkInsertPages inserts pages with multi-row VALUES statements; rows that
// collide on (site_id, path) are skipped and not returned.
func (s *Store) BulkInsertPages(ctx context.Context, pages []domain.Page) ([]domain.Page, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	defer metrics.ObserveQuery("bulk_insert_pages", time.Now())

	type key struct {
		siteID int64
		path   string
	}
	content := make(map[key]string, len(pages))
	for _, p := range pages {
		content[key{p.SiteID, p.Path}] = p.Content
	}

	var inserted []domain.Page
	for _, chunk := range chunks(pages, maxVars/4) {
		var sb strings.Builder
		sb.WriteString("INSERT INTO pages (site_id, path, code, content) VALUES ")
		args := make([]any, 0, len(chunk)*4)
		for i, p := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?)")
			args = append(args, p.SiteID, p.Path, p.Code, p.Content)
		}
		sb.WriteString(" ON CONFLICT (site_id, path) DO NOTHING RETURNING id, site_id, path, code")

		rows, err := s.q.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, domain.StorageError("bulk insert pages", err)
		}
		for rows.Next() {
			var p domain.Page
			if err := rows.Scan(&p.ID, &p.SiteID, &p.Path, &p.Code); err != nil {
				rows.Close()
				return nil, domain.StorageError("scan inserted page", err)
			}
			p.Content = content[key{p.SiteID, p.Path}]
			inserted = append(inserted, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, domain.StorageError("bulk insert pages", err)
		}
	}
	sort.Slice(inserted, func(i, j int) bool { return inserted[i].ID < inserted[j].ID })
	return inserted, nil
}

func (s *Store) DeletePage(ctx context.Context, pageID int64) error {
	defer metrics.ObserveQuery("delete_page", time.Now())
	if _, err := s.q.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", pageID); err != nil {
		return domain.StorageError("delete page", err)
	}
	return nil
}

func (s *Store) GetPages(ctx context.Context, pageIDs []int64) ([]domain.Page, error) {
	defer metrics.ObserveQuery("get_pages", time.Now())
	var pages []domain.Page
	for _, chunk := range chunks(pageIDs, maxVars) {
		rows, err := s.q.QueryContext(ctx,
			"SELECT id, site_id, path, code, content FROM pages WHERE id IN ("+placeholders(len(chunk))+")",
			int64Args(chunk)...)
		if err != nil {
			return nil, domain.StorageError("get pages", err)
		}
		for rows.Next() {
			var p domain.Page
			if err := rows.Scan(&p.ID, &p.SiteID, &p.Path, &p.Code, &p.Content); err != nil {
				rows.Close()
				return nil, domain.StorageError("scan page", err)
			}
			pages = append(pages, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, domain.StorageError("get pages", err)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return pages, nil
}

func (s *Store) CountPages(ctx context.Context, siteIDs []int64) (int, error) {
	defer metrics.ObserveQuery("count_pages", time.Now())
	if siteIDs == nil {
		var n int
		if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&n); err != nil {
			return 0, domain.StorageError("count pages", err)
		}
		return n, nil
	}
	total := 0
	for _, chunk := range chunks(siteIDs, maxVars) {
		var n int
		err := s.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pages WHERE site_id IN ("+placeholders(len(chunk))+")",
			int64Args(chunk)...).Scan(&n)
		if err != nil {
			return 0, domain.StorageError("count pages", err)
		}
		total += n
	}
	return total, nil
}
