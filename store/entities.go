package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/lexkb/extract"
	"github.com/brunobiangulo/lexkb/section"
)

// UnknownSection is the section context recorded for candidates whose
// character interval is absent or outside the document bounds. Partial
// grounding is preferred to dropping the row.
const UnknownSection = "unknown section"

// BreadcrumbSeparator joins ancestor section titles into section_path.
const BreadcrumbSeparator = " > "

// EntityID derives the content-addressed identifier for an entity span:
// the hex SHA-256 digest of the category and the normalized span text.
// Identical spans always map to the same row.
func EntityID(category, text string) string {
	sum := sha256.Sum256([]byte(category + "\x00" + normalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// RelationshipID derives the identifier for a relationship from its
// verbatim grounding quote.
func RelationshipID(relationshipText string) string {
	sum := sha256.Sum256([]byte(relationshipText))
	return hex.EncodeToString(sum[:])
}

// normalizeText lowercases and collapses interior whitespace so that
// formatting differences do not produce distinct identifiers.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// LoadEntities materializes candidate spans into the category's entity
// table and returns the number of rows actually inserted. Rows whose
// content-derived identifier already exists are skipped, so re-running a
// load after a partial-run retry never duplicates. Each candidate is
// enriched with its innermost section breadcrumb before insertion.
func (s *Store) LoadEntities(ctx context.Context, cat extract.Category, cands []extract.Candidate, sourceID string, sections *section.Index) (int, error) {
	table := EntityTable(cat.Name)
	if ok, err := s.hasTable(ctx, table); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	attrCols := make([]string, 0, len(cat.Attributes))
	for _, a := range cat.Attributes {
		attrCols = append(attrCols, columnName(a))
	}

	cols := append([]string{"id", "source_id", "raw_span_text"}, attrCols...)
	cols = append(cols, "char_start", "char_end", "section_path")
	insert := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (?%s)",
		table, strings.Join(cols, ", "), repeatPlaceholders(len(cols)-1))

	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range cands {
			text := strings.TrimSpace(c.Text)
			if text == "" {
				continue
			}

			start, end, path := resolveContext(c.Start, c.End, c.HasInterval, sections)

			args := make([]any, 0, len(cols))
			args = append(args, EntityID(cat.Name, text), sourceID, text)
			for _, a := range cat.Attributes {
				args = append(args, attrValue(c.Attributes, a))
			}
			args = append(args, start, end, path)

			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("inserting entity %q: %w", text, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("store: entities loaded",
		"category", cat.Name, "source", sourceID,
		"candidates", len(cands), "inserted", inserted)
	return inserted, nil
}

// LoadRelationships materializes relationship candidates, keyed by the
// digest of the verbatim grounding quote. The quote itself is persisted
// unchanged; it is the only field guaranteeing answers trace back to
// source text.
func (s *Store) LoadRelationships(ctx context.Context, cands []extract.Relationship, sourceID string, sections *section.Index) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO relationships
				(id, source_id, relationship_text, entity_ids, structure,
				 confidence, char_start, char_end, section_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range cands {
			if strings.TrimSpace(r.Text) == "" {
				continue
			}

			ids := make([]string, 0, len(r.Entities))
			for _, ref := range r.Entities {
				ids = append(ids, EntityID(ref.Category, ref.Text))
			}
			idsJSON, _ := json.Marshal(ids)

			start, end, path := resolveContext(r.Start, r.End, r.HasInterval, sections)

			res, err := stmt.ExecContext(ctx,
				RelationshipID(r.Text), sourceID, r.Text, string(idsJSON),
				r.Structure, r.Confidence, start, end, path)
			if err != nil {
				return fmt.Errorf("inserting relationship: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("store: relationships loaded",
		"source", sourceID, "candidates", len(cands), "inserted", inserted)
	return inserted, nil
}

// attrValue returns the candidate's value for an attribute, or the empty
// string when the oracle did not fill it.
func attrValue(attrs map[string]string, name string) string {
	if attrs == nil {
		return ""
	}
	return attrs[name]
}

// resolveContext validates a candidate interval against the section index
// and returns the stored (char_start, char_end, section_path) triple.
// Missing or out-of-bounds intervals get null offsets and the
// unknown-section sentinel; candidates are never dropped over grounding.
func resolveContext(start, end int, hasInterval bool, sections *section.Index) (any, any, string) {
	if sections == nil || !hasInterval {
		return nil, nil, UnknownSection
	}
	if err := validateInterval(start, end, sections.Len()); err != nil {
		slog.Debug("store: interval rejected", "start", start, "end", end,
			"doc_len", sections.Len(), "error", err)
		return nil, nil, UnknownSection
	}
	crumbs := sections.Breadcrumb(start)
	if len(crumbs) == 0 {
		return start, end, UnknownSection
	}
	return start, end, strings.Join(crumbs, BreadcrumbSeparator)
}

// validateInterval checks a half-open interval against document bounds.
func validateInterval(start, end, docLen int) error {
	if start < 0 || end <= start || end > docLen {
		return fmt.Errorf("%w: [%d, %d) over %d chars", ErrInvalidInterval, start, end, docLen)
	}
	return nil
}
