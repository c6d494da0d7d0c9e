package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RankedRow is one (rowid, score) pair from a keyword or vector index,
// ordered best-first by the producing query.
type RankedRow struct {
	Seq   int64
	Score float64
}

// Row is a fully materialized content row returned from search.
type Row struct {
	Seq         int64   `json:"seq"`
	ID          string  `json:"id"`
	SourceID    string  `json:"source_id"`
	Text        string  `json:"text"`
	SectionPath string  `json:"section_path"`
	CharStart   int     `json:"char_start"`
	CharEnd     int     `json:"char_end"`
	Score       float64 `json:"score"`
}

// ContentTables returns every searchable content table in the knowledge
// base: the relationships table plus all entity tables.
func (s *Store) ContentTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND (name = 'relationships' OR name LIKE 'entities\_%' ESCAPE '\')
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// validateContentTable rejects table names that are not known content
// tables; table names are interpolated into SQL and must never come from
// untrusted input unchecked.
func (s *Store) validateContentTable(ctx context.Context, table string) error {
	if table != "relationships" && !strings.HasPrefix(table, "entities_") {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if table != sanitizeTableRef(table) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	ok, err := s.hasTable(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

func sanitizeTableRef(table string) string {
	var b strings.Builder
	for _, r := range table {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HasKeywordIndex reports whether a table carries an FTS5 projection.
func (s *Store) HasKeywordIndex(ctx context.Context, table string) (bool, error) {
	return s.hasTable(ctx, table+"_fts")
}

// HasVectorIndex reports whether a table carries a vec0 projection with
// at least one stored vector. An empty vector table counts as absent so
// cold-start corpora degrade to keyword-only search.
func (s *Store) HasVectorIndex(ctx context.Context, table string) (bool, error) {
	ok, err := s.hasTable(ctx, "vec_"+table)
	if err != nil || !ok {
		return false, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM vec_%s", table)).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// KeywordSearch runs an FTS5 match against a content table's keyword
// projection and returns up to limit (rowid, score) pairs, best first.
// FTS5 rank is negative (lower is better); scores are negated so higher
// is better.
func (s *Store) KeywordSearch(ctx context.Context, table, match string, limit int) ([]RankedRow, error) {
	if err := s.validateContentTable(ctx, table); err != nil {
		return nil, err
	}
	if ok, err := s.HasKeywordIndex(ctx, table); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s has no keyword projection", ErrMissingIndex, table)
	}

	fts := table + "_fts"
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT rowid, rank FROM %s WHERE %s MATCH ? ORDER BY rank LIMIT ?
	`, fts, fts), match, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search on %s: %w", table, err)
	}
	defer rows.Close()

	var results []RankedRow
	for rows.Next() {
		var r RankedRow
		var rank float64
		if err := rows.Scan(&r.Seq, &rank); err != nil {
			return nil, err
		}
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// VectorSearch runs a KNN query against a content table's vec0 projection
// and returns up to k (rowid, similarity) pairs, best first. Distances
// are cosine; similarity is 1 - distance.
func (s *Store) VectorSearch(ctx context.Context, table string, embedding []float32, k int) ([]RankedRow, error) {
	if err := s.validateContentTable(ctx, table); err != nil {
		return nil, err
	}
	if ok, err := s.HasVectorIndex(ctx, table); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s has no vector projection", ErrMissingIndex, table)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT seq, distance FROM vec_%s
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, table), serializeFloat32(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("vector search on %s: %w", table, err)
	}
	defer rows.Close()

	var results []RankedRow
	for rows.Next() {
		var r RankedRow
		var distance float64
		if err := rows.Scan(&r.Seq, &distance); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// textColumn is the searchable text column of a content table.
func textColumn(table string) string {
	if table == "relationships" {
		return "relationship_text"
	}
	return "raw_span_text"
}

// FetchRows materializes full records for the given rowids, returned in
// the order requested. Unknown rowids are silently omitted.
func (s *Store) FetchRows(ctx context.Context, table string, seqs []int64) ([]Row, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	if err := s.validateContentTable(ctx, table); err != nil {
		return nil, err
	}

	args := make([]any, len(seqs))
	for i, id := range seqs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT seq, id, source_id, %s, COALESCE(section_path, ''),
		       COALESCE(char_start, 0), COALESCE(char_end, 0)
		FROM %s WHERE seq IN (?%s)
	`, textColumn(table), table, repeatPlaceholders(len(seqs)-1)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySeq := make(map[int64]Row, len(seqs))
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Seq, &r.ID, &r.SourceID, &r.Text,
			&r.SectionPath, &r.CharStart, &r.CharEnd); err != nil {
			return nil, err
		}
		bySeq[r.Seq] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]Row, 0, len(seqs))
	for _, id := range seqs {
		if r, ok := bySeq[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// RowText pairs a rowid with its searchable text, for embedding.
type RowText struct {
	Seq  int64
	Text string
}

// AllRowTexts returns the rowid and text column of every row in a content
// table, in rowid order.
func (s *Store) AllRowTexts(ctx context.Context, table string) ([]RowText, error) {
	if err := s.validateContentTable(ctx, table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT seq, %s FROM %s ORDER BY seq", textColumn(table), table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []RowText
	for rows.Next() {
		var rt RowText
		if err := rows.Scan(&rt.Seq, &rt.Text); err != nil {
			return nil, err
		}
		texts = append(texts, rt)
	}
	return texts, rows.Err()
}

// UpsertEmbeddings overwrites the stored vectors for the given rowids.
// INSERT OR REPLACE keeps the operation idempotent; re-running an
// embedding pass recomputes vectors without touching the keyword index.
func (s *Store) UpsertEmbeddings(ctx context.Context, table string, seqs []int64, vectors [][]float32) error {
	if len(seqs) != len(vectors) {
		return fmt.Errorf("seqs and vectors length mismatch (%d vs %d)", len(seqs), len(vectors))
	}
	if err := s.validateContentTable(ctx, table); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT OR REPLACE INTO vec_%s (seq, embedding) VALUES (?, ?)", table))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, seq := range seqs {
			if _, err := stmt.ExecContext(ctx, seq, serializeFloat32(vectors[i])); err != nil {
				return fmt.Errorf("storing embedding for row %d: %w", seq, err)
			}
		}
		return nil
	})
}

// CountRows returns the row count of a content table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if err := s.validateContentTable(ctx, table); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

// CountRowsBySource returns the row count of a content table attributed
// to one source.
func (s *Store) CountRowsBySource(ctx context.Context, table, sourceID string) (int, error) {
	if err := s.validateContentTable(ctx, table); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE source_id = ?", table), sourceID).Scan(&n)
	return n, err
}
