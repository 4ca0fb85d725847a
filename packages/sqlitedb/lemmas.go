package sqlitedb

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

// FindOrCreateLemmas inserts missing lemma texts with frequency 0 and
// returns the id of every requested text. Concurrent callers converge on
// the same rows through the (site_id, lemma) unique constraint.
func (s *Store) FindOrCreateLemmas(ctx context.Context, siteID int64, texts []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(texts))
	if len(texts) == 0 {
		return ids, nil
	}
	defer metrics.ObserveQuery("find_or_create_lemmas", time.Now())

	uniq := slices.Clone(texts)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	for _, chunk := range chunks(uniq, maxVars/2) {
		var sb strings.Builder
		sb.WriteString("INSERT INTO lemmas (site_id, lemma, frequency) VALUES ")
		args := make([]any, 0, len(chunk)*2)
		for i, text := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, 0)")
			args = append(args, siteID, text)
		}
		sb.WriteString(" ON CONFLICT (site_id, lemma) DO NOTHING")
		if _, err := s.q.ExecContext(ctx, sb.String(), args...); err != nil {
			return nil, domain.StorageError("insert lemmas", err)
		}

		args = append([]any{siteID}, stringArgs(chunk)...)
		rows, err := s.q.QueryContext(ctx,
			"SELECT id, lemma FROM lemmas WHERE site_id = ? AND lemma IN ("+placeholders(len(chunk))+")", args...)
		if err != nil {
			return nil, domain.StorageError("select lemmas", err)
		}
		for rows.Next() {
			var id int64
			var text string
			if err := rows.Scan(&id, &text); err != nil {
				rows.Close()
				return nil, domain.StorageError("scan lemma", err)
			}
			ids[text] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, domain.StorageError("select lemmas", err)
		}
	}
	return ids, nil
}

// BulkUpdateLemmaFrequency applies frequency deltas atomically, in lemma id order.
func (s *Store) BulkUpdateLemmaFrequency(ctx context.Context, deltas []domain.LemmaDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	defer metrics.ObserveQuery("bulk_update_lemma_frequency", time.Now())

	merged := make(map[int64]int, len(deltas))
	for _, d := range deltas {
		merged[d.LemmaID] += d.Delta
	}
	ids := make([]int64, 0, len(merged))
	for id, delta := range merged {
		if delta != 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return s.WithTx(ctx, func(tx domain.Store) error {
		q := tx.(*Store).q
		for _, id := range ids {
			if _, err := q.ExecContext(ctx, "UPDATE lemmas SET frequency = frequency + ? WHERE id = ?", merged[id], id); err != nil {
				return domain.StorageError("update lemma frequency", err)
			}
		}
		return nil
	})
}

func (s *Store) FindLemmasBySitesAndText(ctx context.Context, siteIDs []int64, text string) ([]domain.Lemma, error) {
	defer metrics.ObserveQuery("find_lemmas_by_sites_and_text", time.Now())
	query := "SELECT id, site_id, lemma, frequency FROM lemmas WHERE lemma = ?"
	args := []any{text}
	if siteIDs != nil {
		if len(siteIDs) == 0 {
			return nil, nil
		}
		query += " AND site_id IN (" + placeholders(len(siteIDs)) + ")"
		args = append(args, int64Args(siteIDs)...)
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("find lemmas", err)
	}
	defer rows.Close()

	var lemmas []domain.Lemma
	for rows.Next() {
		var l domain.Lemma
		if err := rows.Scan(&l.ID, &l.SiteID, &l.Lemma, &l.Frequency); err != nil {
			return nil, domain.StorageError("scan lemma", err)
		}
		lemmas = append(lemmas, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("find lemmas", err)
	}
	return lemmas, nil
}

func (s *Store) FindLemmaIDsByPage(ctx context.Context, pageID int64) ([]int64, error) {
	defer metrics.ObserveQuery("find_lemma_ids_by_page", time.Now())
	rows, err := s.q.QueryContext(ctx, "SELECT lemma_id FROM search_index WHERE page_id = ? ORDER BY lemma_id", pageID)
	if err != nil {
		return nil, domain.StorageError("find lemma ids by page", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.StorageError("scan lemma id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("find lemma ids by page", err)
	}
	return ids, nil
}

func (s *Store) CountLemmas(ctx context.Context, siteID int64) (int, error) {
	defer metrics.ObserveQuery("count_lemmas", time.Now())
	var n int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM lemmas WHERE site_id = ?", siteID).Scan(&n); err != nil {
		return 0, domain.StorageError("count lemmas", err)
	}
	return n, nil
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
