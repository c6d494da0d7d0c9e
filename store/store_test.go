//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/lexkb/extract"
	"github.com/brunobiangulo/lexkb/section"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestMigrateFreshDatabase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A fresh database lands on the latest version with every migration
	// applying cleanly; the base schema already carries all columns.
	var version int
	if err := s.DB().QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}

	for _, col := range []string{"structure", "confidence"} {
		var n int
		if err := s.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pragma_table_info('relationships') WHERE name = ?",
			col).Scan(&n); err != nil {
			t.Fatalf("inspecting relationships schema: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected relationships column %q in base schema", col)
		}
	}

	// Migrate is idempotent.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Source registry
// ---------------------------------------------------------------------------

const sampleContract = `1. Definitions

1.1 Insolvency

"Insolvency" means the inability of a Party to pay its debts as they fall due.

2. Obligations

The Contractor shall give notice within 28 days of becoming aware of the claim.
`

func TestRegisterAndGetSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.RegisterSource(ctx, "FIDIC Red Book.txt", []byte(sampleContract))
	if err != nil {
		t.Fatalf("registering source: %v", err)
	}
	if src.ID != "fidic-red-book-txt" {
		t.Fatalf("expected slug id, got %q", src.ID)
	}
	if src.ExtractionStatus != SourceNotExtracted {
		t.Fatalf("expected status %q, got %q", SourceNotExtracted, src.ExtractionStatus)
	}
	if src.Size != int64(len(sampleContract)) {
		t.Fatalf("expected size %d, got %d", len(sampleContract), src.Size)
	}

	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}
	if got.ContentHash != src.ContentHash {
		t.Fatalf("hash mismatch: %q vs %q", got.ContentHash, src.ContentHash)
	}

	content, err := s.SourceContent(ctx, src.ID)
	if err != nil {
		t.Fatalf("getting content: %v", err)
	}
	if content != sampleContract {
		t.Fatal("stored content does not round-trip")
	}
}

func TestRegisterDuplicateContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RegisterSource(ctx, "contract.txt", []byte(sampleContract))
	if err != nil {
		t.Fatalf("registering source: %v", err)
	}

	// Same bytes under a different name must be rejected.
	_, err = s.RegisterSource(ctx, "renamed.txt", []byte(sampleContract))
	if err == nil {
		t.Fatal("expected duplicate content rejection")
	}
	if !errors.Is(err, ErrDuplicateContent) {
		t.Fatalf("expected ErrDuplicateContent, got %v", err)
	}
	var dup *DuplicateContentError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateContentError, got %T", err)
	}
	if dup.Existing != first.ID {
		t.Fatalf("expected conflict with %q, got %q", first.ID, dup.Existing)
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("listing sources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("duplicate registration must not create a row, have %d", len(sources))
	}
}

func TestRegisterSameNameDifferentContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.RegisterSource(ctx, "contract.txt", []byte("version one"))
	if err != nil {
		t.Fatalf("registering first: %v", err)
	}
	b, err := s.RegisterSource(ctx, "contract.txt", []byte("version two"))
	if err != nil {
		t.Fatalf("registering second: %v", err)
	}

	if a.ID != "contract-txt" {
		t.Fatalf("expected base slug, got %q", a.ID)
	}
	if b.ID != "contract-txt-2" {
		t.Fatalf("expected suffixed slug, got %q", b.ID)
	}
}

func TestGetSourceNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSource(context.Background(), "nope")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestMarkExtracted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.RegisterSource(ctx, "a.txt", []byte("content a"))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	pending, err := s.ListUnextracted(ctx)
	if err != nil {
		t.Fatalf("listing unextracted: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending source, got %d", len(pending))
	}

	if err := s.MarkExtracted(ctx, src.ID, 12, 3); err != nil {
		t.Fatalf("marking extracted: %v", err)
	}

	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}
	if got.ExtractionStatus != SourceExtracted {
		t.Fatalf("expected status %q, got %q", SourceExtracted, got.ExtractionStatus)
	}
	if got.EntityCount != 12 || got.RelationshipCount != 3 {
		t.Fatalf("expected counts 12/3, got %d/%d", got.EntityCount, got.RelationshipCount)
	}

	pending, err = s.ListUnextracted(ctx)
	if err != nil {
		t.Fatalf("listing unextracted: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("extracted source must leave the pending list, have %d", len(pending))
	}

	if err := s.MarkExtracted(ctx, "missing", 0, 0); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Run state
// ---------------------------------------------------------------------------

func TestSaveProgressUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.RegisterSource(ctx, "a.txt", []byte("content"))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	if err := s.SaveProgress(ctx, CategoryProgress{
		SourceID: src.ID, Category: "deadline", Status: StatusInProgress, StartedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("saving progress: %v", err)
	}

	state, err := s.RunState(ctx, src.ID)
	if err != nil {
		t.Fatalf("loading run state: %v", err)
	}
	if state["deadline"].Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %q", state["deadline"].Status)
	}

	// Same (source, category) key updates in place.
	if err := s.SaveProgress(ctx, CategoryProgress{
		SourceID: src.ID, Category: "deadline", Status: StatusCompleted,
		ItemsCompleted: 7, ItemsTotal: 7, EndedAt: "2026-01-01T00:01:00Z",
	}); err != nil {
		t.Fatalf("updating progress: %v", err)
	}

	state, err = s.RunState(ctx, src.ID)
	if err != nil {
		t.Fatalf("reloading run state: %v", err)
	}
	if len(state) != 1 {
		t.Fatalf("expected a single row after upsert, got %d", len(state))
	}
	got := state["deadline"]
	if got.Status != StatusCompleted || got.ItemsCompleted != 7 {
		t.Fatalf("unexpected progress after update: %+v", got)
	}
}

func TestRunStateTracksFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.RegisterSource(ctx, "a.txt", []byte("content"))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	if err := s.SaveProgress(ctx, CategoryProgress{
		SourceID: src.ID, Category: "actor", Status: StatusFailed,
		ErrorMessage: "model timeout",
	}); err != nil {
		t.Fatalf("saving failure: %v", err)
	}
	if err := s.SaveProgress(ctx, CategoryProgress{
		SourceID: src.ID, Category: "concept", Status: StatusCompleted,
		ItemsCompleted: 4, ItemsTotal: 4,
	}); err != nil {
		t.Fatalf("saving completion: %v", err)
	}

	state, err := s.RunState(ctx, src.ID)
	if err != nil {
		t.Fatalf("loading run state: %v", err)
	}
	if state["actor"].ErrorMessage != "model timeout" {
		t.Fatalf("expected failure message, got %q", state["actor"].ErrorMessage)
	}
	if state["concept"].ErrorMessage != "" {
		t.Fatalf("completed category should carry no error, got %q", state["concept"].ErrorMessage)
	}
}

// ---------------------------------------------------------------------------
// Entity and relationship loading
// ---------------------------------------------------------------------------

func registerContract(t *testing.T, s *Store) (*Source, *section.Index) {
	t.Helper()
	src, err := s.RegisterSource(context.Background(), "contract.txt", []byte(sampleContract))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	return src, section.Build(sampleContract)
}

func deadlineCategory() extract.Category {
	return extract.Category{Name: "deadline", Attributes: []string{"duration", "trigger_event"}}
}

func TestLoadEntitiesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	cat := deadlineCategory()
	if err := s.EnsureContentTable(ctx, cat.Name, cat.Attributes); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}

	start := strings.Index(sampleContract, "28 days")
	cands := []extract.Candidate{
		{
			Class: "deadline", Text: "28 days",
			Attributes:  map[string]string{"duration": "28 days", "trigger_event": "becoming aware of the claim"},
			Start:       start, End: start + len("28 days"), HasInterval: true,
		},
		{Class: "deadline", Text: "within a reasonable time"},
	}

	n, err := s.LoadEntities(ctx, cat, cands, src.ID, sections)
	if err != nil {
		t.Fatalf("loading entities: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserts, got %d", n)
	}

	// Re-running the identical load inserts nothing.
	n, err = s.LoadEntities(ctx, cat, cands, src.ID, sections)
	if err != nil {
		t.Fatalf("reloading entities: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent reload, got %d inserts", n)
	}

	total, err := s.CountRows(ctx, EntityTable(cat.Name))
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 rows, got %d", total)
	}
}

func TestLoadEntitiesSectionEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	cat := deadlineCategory()
	if err := s.EnsureContentTable(ctx, cat.Name, cat.Attributes); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}

	start := strings.Index(sampleContract, "28 days")
	cands := []extract.Candidate{
		{Class: "deadline", Text: "28 days", Start: start, End: start + 7, HasInterval: true},
		{Class: "deadline", Text: "no interval"},
		{Class: "deadline", Text: "bad interval", Start: 10, End: 5, HasInterval: true},
		{Class: "deadline", Text: "out of bounds", Start: 0, End: len(sampleContract) + 50, HasInterval: true},
	}
	if _, err := s.LoadEntities(ctx, cat, cands, src.ID, sections); err != nil {
		t.Fatalf("loading entities: %v", err)
	}

	table := EntityTable(cat.Name)
	var path string
	if err := s.DB().QueryRow(
		"SELECT section_path FROM "+table+" WHERE raw_span_text = ?", "28 days").Scan(&path); err != nil {
		t.Fatalf("querying section path: %v", err)
	}
	if path != "2 Obligations" {
		t.Fatalf("expected breadcrumb \"2 Obligations\", got %q", path)
	}

	for _, text := range []string{"no interval", "bad interval", "out of bounds"} {
		var path string
		var charStart any
		if err := s.DB().QueryRow(
			"SELECT section_path, char_start FROM "+table+" WHERE raw_span_text = ?", text).Scan(&path, &charStart); err != nil {
			t.Fatalf("querying %q: %v", text, err)
		}
		if path != UnknownSection {
			t.Errorf("%q: expected unknown-section sentinel, got %q", text, path)
		}
		if charStart != nil {
			t.Errorf("%q: expected null char_start, got %v", text, charStart)
		}
	}
}

func TestLoadEntitiesUnknownTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	cat := extract.Category{Name: "never-created"}
	_, err := s.LoadEntities(ctx, cat, []extract.Candidate{{Text: "x"}}, src.ID, sections)
	if !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestLoadEntitiesSkipsEmptyText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	cat := extract.Category{Name: "concept"}
	if err := s.EnsureContentTable(ctx, cat.Name, nil); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}

	n, err := s.LoadEntities(ctx, cat, []extract.Candidate{
		{Text: ""}, {Text: "   "}, {Text: "Insolvency"},
	}, src.ID, sections)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected empty spans skipped, got %d inserts", n)
	}
}

func TestEntityIDNormalization(t *testing.T) {
	a := EntityID("concept", "Taking-Over  Certificate")
	b := EntityID("concept", "taking-over certificate")
	if a != b {
		t.Fatal("case and whitespace variants must share an identifier")
	}
	if EntityID("concept", "notice") == EntityID("deadline", "notice") {
		t.Fatal("identical spans in different categories must differ")
	}
	if len(a) != 64 {
		t.Fatalf("expected full hex digest, got %d chars", len(a))
	}
}

func TestLoadRelationshipsVerbatim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	quote := "The Contractor shall give notice within 28 days of becoming aware of the claim."
	start := strings.Index(sampleContract, quote)
	rels := []extract.Relationship{
		{
			Text: quote,
			Entities: []extract.EntityRef{
				{Category: "actor", Text: "Contractor"},
				{Category: "deadline", Text: "28 days"},
			},
			Structure: "obligation", Confidence: 0.9,
			Start: start, End: start + len(quote), HasInterval: true,
		},
	}

	n, err := s.LoadRelationships(ctx, rels, src.ID, sections)
	if err != nil {
		t.Fatalf("loading relationships: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 insert, got %d", n)
	}

	var gotText, gotIDs, gotStructure string
	if err := s.DB().QueryRow(
		"SELECT relationship_text, entity_ids, structure FROM relationships WHERE id = ?",
		RelationshipID(quote)).Scan(&gotText, &gotIDs, &gotStructure); err != nil {
		t.Fatalf("querying relationship: %v", err)
	}
	if gotText != quote {
		t.Fatalf("grounding quote must be stored verbatim, got %q", gotText)
	}
	if gotStructure != "obligation" {
		t.Fatalf("expected structure obligation, got %q", gotStructure)
	}
	if !strings.Contains(gotIDs, EntityID("actor", "Contractor")) ||
		!strings.Contains(gotIDs, EntityID("deadline", "28 days")) {
		t.Fatalf("entity_ids must reference the derived entity identifiers, got %s", gotIDs)
	}

	// Identical quote never duplicates.
	n, err = s.LoadRelationships(ctx, rels, src.ID, sections)
	if err != nil {
		t.Fatalf("reloading relationships: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent reload, got %d inserts", n)
	}
}

// ---------------------------------------------------------------------------
// Content tables and search primitives
// ---------------------------------------------------------------------------

func TestEnsureContentTableCapsAttributes(t *testing.T) {
	s := newTestStore(t)
	err := s.EnsureContentTable(context.Background(), "wide", []string{"a", "b", "c", "d"})
	if err == nil {
		t.Fatal("expected attribute cap rejection")
	}
}

func TestContentTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureContentTable(ctx, "deadline", []string{"duration"}); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}
	if err := s.EnsureContentTable(ctx, "actor", nil); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}

	tables, err := s.ContentTables(ctx)
	if err != nil {
		t.Fatalf("listing content tables: %v", err)
	}

	want := map[string]bool{"relationships": true, "entities_deadline": true, "entities_actor": true}
	if len(tables) != len(want) {
		t.Fatalf("expected %d tables, got %v", len(want), tables)
	}
	for _, table := range tables {
		if !want[table] {
			t.Fatalf("unexpected content table %q", table)
		}
	}
}

func TestKeywordSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	cat := extract.Category{Name: "procedure"}
	if err := s.EnsureContentTable(ctx, cat.Name, nil); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}
	if _, err := s.LoadEntities(ctx, cat, []extract.Candidate{
		{Text: "give notice within 28 days"},
		{Text: "terminate the contract"},
	}, src.ID, sections); err != nil {
		t.Fatalf("loading: %v", err)
	}

	table := EntityTable(cat.Name)
	hasKW, err := s.HasKeywordIndex(ctx, table)
	if err != nil || !hasKW {
		t.Fatalf("expected keyword index, got %v err=%v", hasKW, err)
	}

	rows, err := s.KeywordSearch(ctx, table, "notice", 10)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(rows))
	}
	if rows[0].Score <= 0 {
		t.Fatalf("expected positive relevance score, got %f", rows[0].Score)
	}

	full, err := s.FetchRows(ctx, table, []int64{rows[0].Seq})
	if err != nil {
		t.Fatalf("fetching rows: %v", err)
	}
	if len(full) != 1 || full[0].Text != "give notice within 28 days" {
		t.Fatalf("unexpected hydrated row: %+v", full)
	}
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src, sections := registerContract(t, s)

	cat := extract.Category{Name: "concept"}
	if err := s.EnsureContentTable(ctx, cat.Name, nil); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}
	if _, err := s.LoadEntities(ctx, cat, []extract.Candidate{
		{Text: "Insolvency"}, {Text: "Notice"},
	}, src.ID, sections); err != nil {
		t.Fatalf("loading: %v", err)
	}

	table := EntityTable(cat.Name)

	// Empty vec table reads as no vector index, so cold starts degrade
	// to keyword-only instead of erroring.
	hasVec, err := s.HasVectorIndex(ctx, table)
	if err != nil {
		t.Fatalf("checking vector index: %v", err)
	}
	if hasVec {
		t.Fatal("empty vector table must report no usable vector index")
	}

	texts, err := s.AllRowTexts(ctx, table)
	if err != nil {
		t.Fatalf("listing row texts: %v", err)
	}
	if len(texts) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(texts))
	}

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}
	seqs := []int64{texts[0].Seq, texts[1].Seq}
	if err := s.UpsertEmbeddings(ctx, table, seqs, vectors); err != nil {
		t.Fatalf("upserting embeddings: %v", err)
	}

	hasVec, err = s.HasVectorIndex(ctx, table)
	if err != nil || !hasVec {
		t.Fatalf("expected vector index after upsert, got %v err=%v", hasVec, err)
	}

	rows, err := s.VectorSearch(ctx, table, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(rows))
	}
	if rows[0].Seq != texts[0].Seq {
		t.Fatalf("expected exact-match row first, got seq %d", rows[0].Seq)
	}
	if rows[0].Score <= rows[1].Score {
		t.Fatalf("expected descending similarity, got %f then %f", rows[0].Score, rows[1].Score)
	}

	// Upsert replaces rather than duplicates.
	if err := s.UpsertEmbeddings(ctx, table, seqs, vectors); err != nil {
		t.Fatalf("re-upserting embeddings: %v", err)
	}
	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM vec_" + table).Scan(&count); err != nil {
		t.Fatalf("counting vectors: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 vectors after re-upsert, got %d", count)
	}
}

func TestSearchRejectsUnknownTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.KeywordSearch(ctx, "entities_ghost", "x", 5); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
	if _, err := s.KeywordSearch(ctx, "sources", "x", 5); err == nil {
		t.Fatal("non-content tables must be rejected")
	}
}

func TestCountRowsBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.RegisterSource(ctx, "a.txt", []byte("alpha"))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	b, err := s.RegisterSource(ctx, "b.txt", []byte("beta"))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	cat := extract.Category{Name: "actor"}
	if err := s.EnsureContentTable(ctx, cat.Name, nil); err != nil {
		t.Fatalf("ensuring table: %v", err)
	}
	if _, err := s.LoadEntities(ctx, cat, []extract.Candidate{{Text: "Employer"}, {Text: "Engineer"}}, a.ID, nil); err != nil {
		t.Fatalf("loading: %v", err)
	}
	if _, err := s.LoadEntities(ctx, cat, []extract.Candidate{{Text: "Arbitrator"}}, b.ID, nil); err != nil {
		t.Fatalf("loading: %v", err)
	}

	table := EntityTable(cat.Name)
	na, err := s.CountRowsBySource(ctx, table, a.ID)
	if err != nil || na != 2 {
		t.Fatalf("expected 2 rows for %s, got %d err=%v", a.ID, na, err)
	}
	nb, err := s.CountRowsBySource(ctx, table, b.ID)
	if err != nil || nb != 1 {
		t.Fatalf("expected 1 row for %s, got %d err=%v", b.ID, nb, err)
	}
}
