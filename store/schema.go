package store

import (
	"context"
	"fmt"
	"strings"
)

// MaxAttributes caps the category-specific columns a content table may
// carry. Category schemas are deliberately narrow; everything else lives
// in the mandatory fields.
const MaxAttributes = 3

// schemaSQL returns the DDL for the fixed tables. embeddingDim controls
// the vec0 virtual table dimension. Per-category entity tables are
// generated separately by EnsureContentTable.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Source registry with hash-based duplicate rejection
CREATE TABLE IF NOT EXISTS sources (
    source_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    size INTEGER NOT NULL,
    extraction_status TEXT NOT NULL DEFAULT 'not_extracted',
    entity_count INTEGER NOT NULL DEFAULT 0,
    relationship_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Resumable per-category pipeline state, one row per (source, category).
-- Rows are written synchronously on every transition and kept after
-- completion as an audit trail.
CREATE TABLE IF NOT EXISTS pipeline_runs (
    source_id TEXT NOT NULL REFERENCES sources(source_id),
    category TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    items_completed INTEGER NOT NULL DEFAULT 0,
    items_total INTEGER NOT NULL DEFAULT 0,
    started_at TEXT,
    ended_at TEXT,
    error_message TEXT,
    PRIMARY KEY (source_id, category)
);

-- Relationships with their verbatim grounding quote
CREATE TABLE IF NOT EXISTS relationships (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    source_id TEXT NOT NULL REFERENCES sources(source_id),
    relationship_text TEXT NOT NULL,
    entity_ids JSON,
    structure TEXT,
    confidence REAL,
    char_start INTEGER,
    char_end INTEGER,
    section_path TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Full-text projection over relationships
CREATE VIRTUAL TABLE IF NOT EXISTS relationships_fts USING fts5(
    relationship_text,
    section_path,
    content='relationships',
    content_rowid='seq',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS relationships_ai AFTER INSERT ON relationships BEGIN
    INSERT INTO relationships_fts(rowid, relationship_text, section_path)
    VALUES (new.seq, new.relationship_text, new.section_path);
END;
CREATE TRIGGER IF NOT EXISTS relationships_ad AFTER DELETE ON relationships BEGIN
    INSERT INTO relationships_fts(relationships_fts, rowid, relationship_text, section_path)
    VALUES ('delete', old.seq, old.relationship_text, old.section_path);
END;

-- Vector projection over relationships
CREATE VIRTUAL TABLE IF NOT EXISTS vec_relationships USING vec0(
    seq INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(extraction_status);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
`, embeddingDim)
}

// EnsureContentTable creates the entity table for a category together with
// its FTS5 and vec0 projections. Safe to call repeatedly; CREATE IF NOT
// EXISTS throughout. The attribute list is capped at MaxAttributes.
func (s *Store) EnsureContentTable(ctx context.Context, category string, attributes []string) error {
	if len(attributes) > MaxAttributes {
		return fmt.Errorf("category %q declares %d attributes, max is %d",
			category, len(attributes), MaxAttributes)
	}

	table := EntityTable(category)
	cols := make([]string, 0, len(attributes))
	for _, a := range attributes {
		cols = append(cols, fmt.Sprintf("    %s TEXT,", columnName(a)))
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    source_id TEXT NOT NULL REFERENCES sources(source_id),
    raw_span_text TEXT NOT NULL,
%[2]s
    char_start INTEGER,
    char_end INTEGER,
    section_path TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE VIRTUAL TABLE IF NOT EXISTS %[1]s_fts USING fts5(
    raw_span_text,
    section_path,
    content='%[1]s',
    content_rowid='seq',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS %[1]s_ai AFTER INSERT ON %[1]s BEGIN
    INSERT INTO %[1]s_fts(rowid, raw_span_text, section_path)
    VALUES (new.seq, new.raw_span_text, new.section_path);
END;
CREATE TRIGGER IF NOT EXISTS %[1]s_ad AFTER DELETE ON %[1]s BEGIN
    INSERT INTO %[1]s_fts(%[1]s_fts, rowid, raw_span_text, section_path)
    VALUES ('delete', old.seq, old.raw_span_text, old.section_path);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS vec_%[1]s USING vec0(
    seq INTEGER PRIMARY KEY,
    embedding float[%[3]d] distance_metric=cosine
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_source ON %[1]s(source_id);
`, table, strings.Join(cols, "\n"), s.embeddingDim)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating content table %s: %w", table, err)
	}
	return nil
}

// EntityTable returns the SQL table name for a category.
func EntityTable(category string) string {
	return "entities_" + sanitizeIdent(category)
}

// columnName returns the SQL column name for an attribute.
func columnName(attribute string) string {
	return sanitizeIdent(attribute)
}

// sanitizeIdent maps an arbitrary category or attribute name to a safe
// SQL identifier: lowercase, [a-z0-9_] only.
func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "c_" + out
	}
	return out
}

// hasTable reports whether a table or virtual table exists.
func (s *Store) hasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
