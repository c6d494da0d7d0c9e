package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Source extraction statuses.
const (
	SourceNotExtracted = "not_extracted"
	SourceExtracted    = "extracted"
)

// Source is a row in the source registry. Content is kept out of the
// struct; use SourceContent to fetch it.
type Source struct {
	ID                string `json:"source_id"`
	Name              string `json:"name"`
	ContentHash       string `json:"content_hash"`
	Size              int64  `json:"size"`
	ExtractionStatus  string `json:"extraction_status"`
	EntityCount       int    `json:"entity_count"`
	RelationshipCount int    `json:"relationship_count"`
	CreatedAt         string `json:"created_at"`
}

// RegisterSource registers a document under a stable slug-derived
// identifier. A source whose content hash already exists is rejected with
// a DuplicateContentError naming the conflicting source; slug collisions
// between distinct contents are resolved with a numeric suffix.
func (s *Store) RegisterSource(ctx context.Context, name string, content []byte) (*Source, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT source_id FROM sources WHERE content_hash = ?", hash).Scan(&existing)
	switch {
	case err == nil:
		return nil, &DuplicateContentError{Name: name, Existing: existing, ContentHash: hash}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("checking content hash: %w", err)
	}

	id, err := s.allocateSourceID(ctx, name)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, name, content, content_hash, size, extraction_status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, name, string(content), hash, int64(len(content)), SourceNotExtracted); err != nil {
		return nil, fmt.Errorf("inserting source: %w", err)
	}

	return s.GetSource(ctx, id)
}

// allocateSourceID slugifies the name and appends a numeric suffix until
// the identifier is free.
func (s *Store) allocateSourceID(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	id := base
	for n := 2; ; n++ {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sources WHERE source_id = ?", id).Scan(&count); err != nil {
			return "", fmt.Errorf("checking source id: %w", err)
		}
		if count == 0 {
			return id, nil
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// slugify lowercases a name and maps runs of non-alphanumerics to single
// hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		out = "source"
	}
	return out
}

// GetSource retrieves a source by its identifier.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	src := &Source{}
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, name, content_hash, size, extraction_status,
			entity_count, relationship_count, created_at
		FROM sources WHERE source_id = ?
	`, id).Scan(&src.ID, &src.Name, &src.ContentHash, &src.Size,
		&src.ExtractionStatus, &src.EntityCount, &src.RelationshipCount, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// SourceContent fetches the registered document text for a source.
func (s *Store) SourceContent(ctx context.Context, id string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM sources WHERE source_id = ?", id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return content, err
}

// ListSources returns all registered sources, newest first.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	return s.listSources(ctx, `
		SELECT source_id, name, content_hash, size, extraction_status,
			entity_count, relationship_count, created_at
		FROM sources ORDER BY created_at DESC, source_id
	`)
}

// ListUnextracted returns sources that have not completed a full pipeline
// run, supporting resumable batch ingestion.
func (s *Store) ListUnextracted(ctx context.Context) ([]Source, error) {
	return s.listSources(ctx, `
		SELECT source_id, name, content_hash, size, extraction_status,
			entity_count, relationship_count, created_at
		FROM sources WHERE extraction_status = 'not_extracted'
		ORDER BY created_at, source_id
	`)
}

func (s *Store) listSources(ctx context.Context, query string) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Name, &src.ContentHash, &src.Size,
			&src.ExtractionStatus, &src.EntityCount, &src.RelationshipCount,
			&src.CreatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// MarkExtracted flips a source to extracted and records its final counts.
// The pipeline calls this once, on full-run completion; it is the only
// mutation a Source row sees after creation.
func (s *Store) MarkExtracted(ctx context.Context, id string, entityCount, relationshipCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET extraction_status = ?, entity_count = ?, relationship_count = ?
		WHERE source_id = ?
	`, SourceExtracted, entityCount, relationshipCount, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return nil
}
