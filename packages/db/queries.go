package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// pageInsertBatch keeps the multi-VALUES insert under pgx's 65535 parameter limit.
const pageInsertBatch = 1000

const siteColumns = "id, url, name, status, last_error, status_time"

func scanSite(row pgx.Row) (*domain.Site, error) {
	var site domain.Site
	var status string
	var lastError *string
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &lastError, &site.StatusTime); err != nil {
		return nil, err
	}
	site.Status = domain.SiteStatus(status)
	if lastError != nil {
		site.LastError = *lastError
	}
	return &site, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Storage) GetSiteByURL(ctx context.Context, url string) (*domain.Site, error) {
	defer metrics.ObserveQuery("get_site_by_url", time.Now())
	site, err := scanSite(s.q.QueryRow(ctx, "SELECT "+siteColumns+" FROM sites WHERE url = $1", url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", url, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.StorageError("get site by url", err)
	}
	return site, nil
}

func (s *Storage) UpsertSite(ctx context.Context, url, name string, status domain.SiteStatus) (*domain.Site, error) {
	defer metrics.ObserveQuery("upsert_site", time.Now())
	site, err := scanSite(s.q.QueryRow(ctx, `
		INSERT INTO sites (url, name, status, last_error, status_time) VALUES ($1, $2, $3, NULL, now())
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			last_error = NULL,
			status_time = EXCLUDED.status_time
		RETURNING `+siteColumns, url, name, string(status)))
	if err != nil {
		return nil, domain.StorageError("upsert site", err)
	}
	return site, nil
}

func (s *Storage) UpdateSiteStatus(ctx context.Context, siteID int64, status domain.SiteStatus, lastError string) error {
	defer metrics.ObserveQuery("update_site_status", time.Now())
	tag, err := s.q.Exec(ctx,
		"UPDATE sites SET status = $1, last_error = $2, status_time = now() WHERE id = $3",
		string(status), nullable(lastError), siteID)
	if err != nil {
		return domain.StorageError("update site status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %d: %w", siteID, domain.ErrNotFound)
	}
	return nil
}

func (s *Storage) DeleteSite(ctx context.Context, siteID int64) error {
	defer metrics.ObserveQuery("delete_site", time.Now())
	if _, err := s.q.Exec(ctx, "DELETE FROM sites WHERE id = $1", siteID); err != nil {
		return domain.StorageError("delete site", err)
	}
	return nil
}

func (s *Storage) ListSites(ctx context.Context) ([]domain.Site, error) {
	defer metrics.ObserveQuery("list_sites", time.Now())
	rows, err := s.q.Query(ctx, "SELECT "+siteColumns+" FROM sites ORDER BY id")
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

func (s *Storage) AnySiteWithStatus(ctx context.Context, status domain.SiteStatus) (bool, error) {
	defer metrics.ObserveQuery("any_site_with_status", time.Now())
	var exists bool
	if err := s.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM sites WHERE status = $1)", string(status)).Scan(&exists); err != nil {
		return false, domain.StorageError("any site with status", err)
	}
	return exists, nil
}

func (s *Storage) ResetStalledSites(ctx context.Context, olderThan time.Duration, lastError string) (int64, error) {
	defer metrics.ObserveQuery("reset_stalled_sites", time.Now())
	interval := pgtype.Interval{
		Microseconds: olderThan.Microseconds(),
		Valid:        true,
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE sites SET status = $1, last_error = $2, status_time = now()
		WHERE status = $3 AND status_time < now() - $4::interval`,
		string(domain.Failed), nullable(lastError), string(domain.Indexing), interval)
	if err != nil {
		return 0, domain.StorageError("reset stalled sites", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Storage) FindPage(ctx context.Context, siteID int64, path string) (*domain.Page, error) {
	defer metrics.ObserveQuery("find_page", time.Now())
	var p domain.Page
	err := s.q.QueryRow(ctx,
		"SELECT id, site_id, path, code, content FROM pages WHERE site_id = $1 AND path = $2", siteID, path,
	).Scan(&p.ID, &p.SiteID, &p.Path, &p.Code, &p.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.StorageError("find page", err)
	}
	return &p, nil
}

// BulkInsertPages uses a single INSERT with multiple VALUES per batch and
// RETURNING to get the new IDs back without a second query.
func (s *Storage) BulkInsertPages(ctx context.Context, pages []domain.Page) ([]domain.Page, error) {
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
	for start := 0; start < len(pages); start += pageInsertBatch {
		batch := pages[start:min(start+pageInsertBatch, len(pages))]

		var sb strings.Builder
		sb.WriteString("INSERT INTO pages (site_id, path, code, content) VALUES ")
		args := make([]any, 0, len(batch)*4)
		paramIdx := 1
		for i, p := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", paramIdx, paramIdx+1, paramIdx+2, paramIdx+3)
			args = append(args, p.SiteID, p.Path, p.Code, p.Content)
			paramIdx += 4
		}
		sb.WriteString(" ON CONFLICT (site_id, path) DO NOTHING RETURNING id, site_id, path, code")

		rows, err := s.q.Query(ctx, sb.String(), args...)
		if err != nil {
			return nil, domain.StorageError("bulk insert pages", err)
		}
		var p domain.Page
		if _, err := pgx.ForEachRow(rows, []any{&p.ID, &p.SiteID, &p.Path, &p.Code}, func() error {
			p.Content = content[key{p.SiteID, p.Path}]
			inserted = append(inserted, p)
			return nil
		}); err != nil {
			return nil, domain.StorageError("bulk insert pages", err)
		}
	}
	sort.Slice(inserted, func(i, j int) bool { return inserted[i].ID < inserted[j].ID })
	return inserted, nil
}

func (s *Storage) DeletePage(ctx context.Context, pageID int64) error {
	defer metrics.ObserveQuery("delete_page", time.Now())
	if _, err := s.q.Exec(ctx, "DELETE FROM pages WHERE id = $1", pageID); err != nil {
		return domain.StorageError("delete page", err)
	}
	return nil
}

func (s *Storage) GetPages(ctx context.Context, pageIDs []int64) ([]domain.Page, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}
	defer metrics.ObserveQuery("get_pages", time.Now())
	rows, err := s.q.Query(ctx,
		"SELECT id, site_id, path, code, content FROM pages WHERE id = ANY($1) ORDER BY id", pageIDs)
	if err != nil {
		return nil, domain.StorageError("get pages", err)
	}
	var pages []domain.Page
	var p domain.Page
	if _, err := pgx.ForEachRow(rows, []any{&p.ID, &p.SiteID, &p.Path, &p.Code, &p.Content}, func() error {
		pages = append(pages, p)
		return nil
	}); err != nil {
		return nil, domain.StorageError("get pages", err)
	}
	return pages, nil
}

func (s *Storage) CountPages(ctx context.Context, siteIDs []int64) (int, error) {
	defer metrics.ObserveQuery("count_pages", time.Now())
	var n int
	var err error
	if siteIDs == nil {
		err = s.q.QueryRow(ctx, "SELECT COUNT(*) FROM pages").Scan(&n)
	} else {
		err = s.q.QueryRow(ctx, "SELECT COUNT(*) FROM pages WHERE site_id = ANY($1)", siteIDs).Scan(&n)
	}
	if err != nil {
		return 0, domain.StorageError("count pages", err)
	}
	return n, nil
}

// FindOrCreateLemmas relies on ON CONFLICT DO NOTHING so that concurrent
// indexers of the same site converge on one row per lemma. Texts are sorted
// so competing inserts take row locks in the same order.
func (s *Storage) FindOrCreateLemmas(ctx context.Context, siteID int64, texts []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(texts))
	if len(texts) == 0 {
		return ids, nil
	}
	defer metrics.ObserveQuery("find_or_create_lemmas", time.Now())

	uniq := slices.Clone(texts)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	if _, err := s.q.Exec(ctx, `
		INSERT INTO lemmas (site_id, lemma, frequency)
		SELECT $1, t, 0 FROM unnest($2::text[]) AS t
		ORDER BY t
		ON CONFLICT (site_id, lemma) DO NOTHING`, siteID, uniq); err != nil {
		return nil, domain.StorageError("insert lemmas", err)
	}

	rows, err := s.q.Query(ctx, "SELECT id, lemma FROM lemmas WHERE site_id = $1 AND lemma = ANY($2)", siteID, uniq)
	if err != nil {
		return nil, domain.StorageError("select lemmas", err)
	}
	var id int64
	var text string
	if _, err := pgx.ForEachRow(rows, []any{&id, &text}, func() error {
		ids[text] = id
		return nil
	}); err != nil {
		return nil, domain.StorageError("select lemmas", err)
	}
	return ids, nil
}

// BulkUpdateLemmaFrequency locks the affected rows in id order before
// applying the deltas, so concurrent page indexers cannot deadlock.
func (s *Storage) BulkUpdateLemmaFrequency(ctx context.Context, deltas []domain.LemmaDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	defer metrics.ObserveQuery("bulk_update_lemma_frequency", time.Now())

	merged := make(map[int64]int, len(deltas))
	for _, d := range deltas {
		merged[d.LemmaID] += d.Delta
	}
	ids := make([]int64, 0, len(merged))
	amounts := make([]int32, 0, len(merged))
	for id, delta := range merged {
		if delta != 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		amounts = append(amounts, int32(merged[id]))
	}

	return s.WithTx(ctx, func(tx domain.Store) error {
		q := tx.(*Storage).q
		if _, err := q.Exec(ctx, "SELECT id FROM lemmas WHERE id = ANY($1) ORDER BY id FOR UPDATE", ids); err != nil {
			return domain.StorageError("lock lemmas", err)
		}
		if _, err := q.Exec(ctx, `
			UPDATE lemmas AS l SET frequency = l.frequency + d.delta
			FROM unnest($1::bigint[], $2::int[]) AS d(id, delta)
			WHERE l.id = d.id`, ids, amounts); err != nil {
			return domain.StorageError("update lemma frequency", err)
		}
		return nil
	})
}

func (s *Storage) FindLemmasBySitesAndText(ctx context.Context, siteIDs []int64, text string) ([]domain.Lemma, error) {
	defer metrics.ObserveQuery("find_lemmas_by_sites_and_text", time.Now())
	var rows pgx.Rows
	var err error
	if siteIDs == nil {
		rows, err = s.q.Query(ctx, "SELECT id, site_id, lemma, frequency FROM lemmas WHERE lemma = $1 ORDER BY id", text)
	} else {
		rows, err = s.q.Query(ctx,
			"SELECT id, site_id, lemma, frequency FROM lemmas WHERE lemma = $1 AND site_id = ANY($2) ORDER BY id", text, siteIDs)
	}
	if err != nil {
		return nil, domain.StorageError("find lemmas", err)
	}
	var lemmas []domain.Lemma
	var l domain.Lemma
	if _, err := pgx.ForEachRow(rows, []any{&l.ID, &l.SiteID, &l.Lemma, &l.Frequency}, func() error {
		lemmas = append(lemmas, l)
		return nil
	}); err != nil {
		return nil, domain.StorageError("find lemmas", err)
	}
	return lemmas, nil
}

func (s *Storage) FindLemmaIDsByPage(ctx context.Context, pageID int64) ([]int64, error) {
	defer metrics.ObserveQuery("find_lemma_ids_by_page", time.Now())
	rows, err := s.q.Query(ctx, "SELECT lemma_id FROM search_index WHERE page_id = $1 ORDER BY lemma_id", pageID)
	if err != nil {
		return nil, domain.StorageError("find lemma ids by page", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, domain.StorageError("find lemma ids by page", err)
	}
	return ids, nil
}

func (s *Storage) CountLemmas(ctx context.Context, siteID int64) (int, error) {
	defer metrics.ObserveQuery("count_lemmas", time.Now())
	var n int
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM lemmas WHERE site_id = $1", siteID).Scan(&n); err != nil {
		return 0, domain.StorageError("count lemmas", err)
	}
	return n, nil
}

// BulkInsertIndexRows streams rows with COPY.
func (s *Storage) BulkInsertIndexRows(ctx context.Context, rows []domain.IndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	defer metrics.ObserveQuery("bulk_insert_index_rows", time.Now())

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{r.PageID, r.LemmaID, r.Rank}
	}
	if _, err := s.q.CopyFrom(ctx, pgx.Identifier{"search_index"}, []string{"page_id", "lemma_id", "rank"}, pgx.CopyFromRows(copyRows)); err != nil {
		return domain.StorageError("bulk insert index rows", err)
	}
	return nil
}

func (s *Storage) FindIndexByPagesAndLemmas(ctx context.Context, pageIDs, lemmaIDs []int64) ([]domain.IndexRow, error) {
	if len(lemmaIDs) == 0 || (pageIDs != nil && len(pageIDs) == 0) {
		return nil, nil
	}
	defer metrics.ObserveQuery("find_index_by_pages_and_lemmas", time.Now())

	var rows pgx.Rows
	var err error
	if pageIDs == nil {
		rows, err = s.q.Query(ctx,
			"SELECT page_id, lemma_id, rank FROM search_index WHERE lemma_id = ANY($1) ORDER BY page_id, lemma_id", lemmaIDs)
	} else {
		rows, err = s.q.Query(ctx,
			"SELECT page_id, lemma_id, rank FROM search_index WHERE lemma_id = ANY($1) AND page_id = ANY($2) ORDER BY page_id, lemma_id",
			lemmaIDs, pageIDs)
	}
	if err != nil {
		return nil, domain.StorageError("find index rows", err)
	}
	var out []domain.IndexRow
	var r domain.IndexRow
	if _, err := pgx.ForEachRow(rows, []any{&r.PageID, &r.LemmaID, &r.Rank}, func() error {
		out = append(out, r)
		return nil
	}); err != nil {
		return nil, domain.StorageError("find index rows", err)
	}
	return out, nil
}
