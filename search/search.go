// Package search implements hybrid retrieval over knowledge base content
// tables: FTS5 keyword search and sqlite-vec KNN fused with Reciprocal
// Rank Fusion. Either index may be absent for a table; search degrades
// to whichever side is available rather than failing.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/lexkb/llm"
	"github.com/brunobiangulo/lexkb/store"
)

// defaultCandidateMultiplier widens each per-index candidate list
// relative to the requested result count so fusion has enough overlap
// to work with.
const defaultCandidateMultiplier = 2

// Config holds search engine configuration.
type Config struct {
	// RRFK is the RRF smoothing constant. Zero means DefaultRRFK.
	RRFK int `json:"rrf_k" yaml:"rrf_k"`

	// CandidateMultiplier scales per-index candidate list length
	// relative to the requested result count. Zero means 2.
	CandidateMultiplier int `json:"candidate_multiplier" yaml:"candidate_multiplier"`
}

// Result is a fused search hit with its row data attached.
type Result struct {
	Seq         int64    `json:"seq"`
	ID          string   `json:"id"`
	SourceID    string   `json:"source_id"`
	Table       string   `json:"table"`
	Text        string   `json:"text"`
	SectionPath string   `json:"section_path"`
	CharStart   int      `json:"char_start"`
	CharEnd     int      `json:"char_end"`
	Score       float64  `json:"score"`
	Methods     []string `json:"methods"`
}

// Trace records the breakdown of one hybrid search operation.
type Trace struct {
	Table          string `json:"table"`
	FTSQuery       string `json:"fts_query"`
	KeywordResults int    `json:"keyword_results"`
	VectorResults  int    `json:"vector_results"`
	FusedResults   int    `json:"fused_results"`
	KeywordIndex   bool   `json:"keyword_index"`
	VectorIndex    bool   `json:"vector_index"`
	MaxRequested   int    `json:"max_requested"`
	ElapsedMs      int64  `json:"elapsed_ms"`
}

// Engine performs hybrid retrieval against one content table at a time.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	cfg      Config
}

// New creates a search engine. embedder may be nil; vector search is
// then skipped and queries run keyword-only.
func New(s *store.Store, embedder llm.Provider, cfg Config) *Engine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = defaultCandidateMultiplier
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Search runs hybrid retrieval over one content table and returns at
// most topK fused results. A missing keyword or vector index degrades
// the search to the other side; both missing yields an empty result
// set, not an error.
func (e *Engine) Search(ctx context.Context, query, table string, topK int) ([]Result, *Trace, error) {
	if topK <= 0 {
		topK = 10
	}
	candidates := topK * e.cfg.CandidateMultiplier

	start := time.Now()
	trace := &Trace{
		Table:        table,
		MaxRequested: topK,
	}

	ftsQuery := sanitizeFTSQuery(query)
	trace.FTSQuery = ftsQuery

	hasKeyword, err := e.store.HasKeywordIndex(ctx, table)
	if err != nil {
		return nil, trace, fmt.Errorf("checking keyword index: %w", err)
	}
	hasVector, err := e.store.HasVectorIndex(ctx, table)
	if err != nil {
		return nil, trace, fmt.Errorf("checking vector index: %w", err)
	}
	if e.embedder == nil {
		hasVector = false
	}
	trace.KeywordIndex = hasKeyword
	trace.VectorIndex = hasVector

	if !hasKeyword && !hasVector {
		slog.Warn("search: no usable index on table, returning empty results",
			"table", table)
		trace.ElapsedMs = time.Since(start).Milliseconds()
		return nil, trace, nil
	}

	type result struct {
		rows []store.RankedRow
		err  error
	}

	kwCh := make(chan result, 1)
	vecCh := make(chan result, 1)

	go func() {
		if !hasKeyword || ftsQuery == "" {
			kwCh <- result{}
			return
		}
		rows, err := e.store.KeywordSearch(ctx, table, ftsQuery, candidates)
		kwCh <- result{rows, err}
	}()

	go func() {
		if !hasVector {
			vecCh <- result{}
			return
		}
		rows, err := e.vectorSearch(ctx, query, table, candidates)
		vecCh <- result{rows, err}
	}()

	kwRes := <-kwCh
	vecRes := <-vecCh

	// A side that raced with index teardown reports missing rather than
	// failing the whole query.
	if kwRes.err != nil && errors.Is(kwRes.err, store.ErrMissingIndex) {
		slog.Debug("search: keyword index unavailable", "table", table)
		kwRes = result{}
		hasKeyword = false
		trace.KeywordIndex = false
	}
	if vecRes.err != nil && errors.Is(vecRes.err, store.ErrMissingIndex) {
		slog.Debug("search: vector index unavailable", "table", table)
		vecRes = result{}
		hasVector = false
		trace.VectorIndex = false
	}

	if kwRes.err != nil {
		return nil, trace, fmt.Errorf("keyword search: %w", kwRes.err)
	}
	if vecRes.err != nil {
		return nil, trace, fmt.Errorf("vector search: %w", vecRes.err)
	}

	trace.KeywordResults = len(kwRes.rows)
	trace.VectorResults = len(vecRes.rows)

	fused, infoMap := fuseRRF(kwRes.rows, vecRes.rows, e.cfg.RRFK, topK)
	trace.FusedResults = len(fused)
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("search: hybrid search complete",
		"table", table,
		"keyword_results", trace.KeywordResults,
		"vector_results", trace.VectorResults,
		"fused_results", trace.FusedResults,
		"elapsed", time.Since(start).Round(time.Millisecond))

	results, err := e.hydrate(ctx, table, fused, infoMap)
	if err != nil {
		return nil, trace, err
	}
	return results, trace, nil
}

// SearchAll runs Search over every content table and merges the fused
// lists by score. Cross-table scores are comparable because RRF scores
// depend only on rank positions.
func (e *Engine) SearchAll(ctx context.Context, query string, topK int) ([]Result, error) {
	tables, err := e.store.ContentTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing content tables: %w", err)
	}

	var all []Result
	for _, table := range tables {
		results, _, err := e.Search(ctx, query, table, topK)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		all = append(all, results...)
	}

	sortResults(all)
	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query, table string, k int) ([]store.RankedRow, error) {
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty query embedding returned")
	}
	return e.store.VectorSearch(ctx, table, embeddings[0], k)
}

// hydrate attaches row data to fused rankings, preserving fused order.
func (e *Engine) hydrate(ctx context.Context, table string, fused []store.RankedRow, infoMap map[int64]fusedInfo) ([]Result, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	seqs := make([]int64, len(fused))
	scores := make(map[int64]float64, len(fused))
	for i, r := range fused {
		seqs[i] = r.Seq
		scores[r.Seq] = r.Score
	}

	rows, err := e.store.FetchRows(ctx, table, seqs)
	if err != nil {
		return nil, fmt.Errorf("fetching result rows: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Seq:         row.Seq,
			ID:          row.ID,
			SourceID:    row.SourceID,
			Table:       table,
			Text:        row.Text,
			SectionPath: row.SectionPath,
			CharStart:   row.CharStart,
			CharEnd:     row.CharEnd,
			Score:       scores[row.Seq],
			Methods:     infoMap[row.Seq].Methods,
		})
	}
	return results, nil
}

// sortResults orders merged results deterministically: score descending,
// then table name, then seq.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Table != results[j].Table {
			return results[i].Table < results[j].Table
		}
		return results[i].Seq < results[j].Seq
	})
}
