package sqlitedb

import (
	"context"
	"sort"
	"strings"
	"time"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

func (s *Store) BulkInsertIndexRows(ctx context.Context, rows []domain.IndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	defer metrics.ObserveQuery("bulk_insert_index_rows", time.Now())

	for _, chunk := range chunks(rows, maxVars/3) {
		var sb strings.Builder
		sb.WriteString("INSERT INTO search_index (page_id, lemma_id, rank) VALUES ")
		args := make([]any, 0, len(chunk)*3)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, r.PageID, r.LemmaID, r.Rank)
		}
		if _, err := s.q.ExecContext(ctx, sb.String(), args...); err != nil {
			return domain.StorageError("bulk insert index rows", err)
		}
	}
	return nil
}

func (s *Store) FindIndexByPagesAndLemmas(ctx context.Context, pageIDs, lemmaIDs []int64) ([]domain.IndexRow, error) {
	if len(lemmaIDs) == 0 || (pageIDs != nil && len(pageIDs) == 0) {
		return nil, nil
	}
	defer metrics.ObserveQuery("find_index_by_pages_and_lemmas", time.Now())

	lemmaChunks := chunks(lemmaIDs, maxVars/2)
	pageChunks := [][]int64{nil}
	if pageIDs != nil {
		pageChunks = chunks(pageIDs, maxVars/2)
	}

	var out []domain.IndexRow
	for _, lemmas := range lemmaChunks {
		for _, pages := range pageChunks {
			query := "SELECT page_id, lemma_id, rank FROM search_index WHERE lemma_id IN (" + placeholders(len(lemmas)) + ")"
			args := int64Args(lemmas)
			if pages != nil {
				query += " AND page_id IN (" + placeholders(len(pages)) + ")"
				args = append(args, int64Args(pages)...)
			}
			found, err := s.queryIndexRows(ctx, query, args)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID < out[j].PageID
		}
		return out[i].LemmaID < out[j].LemmaID
	})
	return out, nil
}

func (s *Store) queryIndexRows(ctx context.Context, query string, args []any) ([]domain.IndexRow, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("find index rows", err)
	}
	defer rows.Close()

	var out []domain.IndexRow
	for rows.Next() {
		var r domain.IndexRow
		if err := rows.Scan(&r.PageID, &r.LemmaID, &r.Rank); err != nil {
			return nil, domain.StorageError("scan index row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("find index rows", err)
	}
	return out, nil
}
