// Package lexkb is a knowledge base engine for legal and contractual
// documents. Registered sources are deduplicated by content hash,
// extracted category by category with durable resumable run state, and
// queried through hybrid FTS5 + vector retrieval fused with Reciprocal
// Rank Fusion.
package lexkb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/lexkb/extract"
	"github.com/brunobiangulo/lexkb/llm"
	"github.com/brunobiangulo/lexkb/pipeline"
	"github.com/brunobiangulo/lexkb/report"
	"github.com/brunobiangulo/lexkb/search"
	"github.com/brunobiangulo/lexkb/store"
)

// KnowledgeBase is the main entry point for the engine.
type KnowledgeBase struct {
	cfg        Config
	store      *store.Store
	oracle     extract.Oracle
	embedder   llm.Provider
	categories []extract.Category
	runner     *pipeline.Runner
	searcher   *search.Engine
	closed     bool
}

// Option configures a KnowledgeBase beyond what Config carries.
type Option func(*KnowledgeBase)

// WithOracle replaces the LLM-backed extraction oracle. Useful for
// deterministic oracles in tests or rule-based extraction.
func WithOracle(o extract.Oracle) Option {
	return func(kb *KnowledgeBase) { kb.oracle = o }
}

// WithEmbedder replaces the embedding provider used for vector search.
func WithEmbedder(p llm.Provider) Option {
	return func(kb *KnowledgeBase) { kb.embedder = p }
}

// WithCategories overrides the extraction category set. Default is
// extract.DefaultCategories().
func WithCategories(cats []extract.Category) Option {
	return func(kb *KnowledgeBase) { kb.categories = cats }
}

// Open creates a knowledge base from the given configuration, opening
// (or creating) the backing database.
func Open(cfg Config, opts ...Option) (*KnowledgeBase, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.RRFK == 0 {
		cfg.RRFK = search.DefaultRRFK
	}

	s, err := store.Open(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	kb := &KnowledgeBase{
		cfg:        cfg,
		store:      s,
		categories: extract.DefaultCategories(),
	}
	for _, opt := range opts {
		opt(kb)
	}

	if kb.oracle == nil && cfg.Chat.BaseURL != "" {
		chatLLM, err := llm.New(cfg.Chat)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		kb.oracle = extract.NewLLMOracle(chatLLM)
	}

	if kb.embedder == nil && cfg.Embedding.BaseURL != "" {
		embedLLM, err := llm.New(cfg.Embedding)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		kb.embedder = embedLLM
	}

	kb.runner = pipeline.NewRunner(s, kb.oracle, pipeline.Config{
		Workers:           cfg.Workers,
		SkipRelationships: cfg.SkipRelationships,
	})
	kb.searcher = search.New(s, kb.embedder, search.Config{
		RRFK:                cfg.RRFK,
		CandidateMultiplier: cfg.CandidateMultiplier,
	})
	return kb, nil
}

// Close shuts the knowledge base down.
func (kb *KnowledgeBase) Close() error {
	if kb.closed {
		return nil
	}
	kb.closed = true
	return kb.store.Close()
}

// RegisterSource stores a source document under the given name. Content
// is deduplicated by hash; registering identical bytes again returns a
// DuplicateContentError naming the existing source.
func (kb *KnowledgeBase) RegisterSource(ctx context.Context, name string, content []byte) (*store.Source, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	return kb.store.RegisterSource(ctx, name, content)
}

// RunPipeline extracts all configured categories plus relationships
// from one registered source, resuming any previously failed or
// interrupted stages.
func (kb *KnowledgeBase) RunPipeline(ctx context.Context, sourceID string) (*pipeline.Report, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	if kb.oracle == nil {
		return nil, ErrNoOracle
	}
	return kb.runner.Run(ctx, sourceID, kb.categories)
}

// IngestAll runs the pipeline over every source that has not completed
// extraction yet, oldest first. A degraded source run is reported and
// ingestion continues with the next source.
func (kb *KnowledgeBase) IngestAll(ctx context.Context) ([]*pipeline.Report, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	if kb.oracle == nil {
		return nil, ErrNoOracle
	}

	pending, err := kb.store.ListUnextracted(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing unextracted sources: %w", err)
	}

	start := time.Now()
	reports := make([]*pipeline.Report, 0, len(pending))
	for _, src := range pending {
		rep, err := kb.runner.Run(ctx, src.ID, kb.categories)
		if err != nil {
			return reports, fmt.Errorf("source %s: %w", src.ID, err)
		}
		reports = append(reports, rep)
	}

	slog.Info("lexkb: batch ingestion finished",
		"sources", len(pending), "elapsed", time.Since(start).Round(time.Millisecond))
	return reports, nil
}

// Search runs hybrid retrieval over every content table.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, topK int) ([]search.Result, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	return kb.searcher.SearchAll(ctx, query, topK)
}

// SearchTable runs hybrid retrieval over a single content table and
// returns the trace alongside the results.
func (kb *KnowledgeBase) SearchTable(ctx context.Context, query, table string, topK int) ([]search.Result, *search.Trace, error) {
	if kb.closed {
		return nil, nil, ErrStoreClosed
	}
	return kb.searcher.Search(ctx, query, table, topK)
}

// SetupEmbeddings backfills vector embeddings for every content table.
func (kb *KnowledgeBase) SetupEmbeddings(ctx context.Context) ([]*search.EmbedStats, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	if kb.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return kb.searcher.SetupEmbeddings(ctx, kb.cfg.Workers)
}

// Coverage builds an extraction coverage report.
func (kb *KnowledgeBase) Coverage(ctx context.Context) (*report.Coverage, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	return report.Build(ctx, kb.store)
}

// WriteCoverageXLSX builds a coverage report and writes it as a
// workbook at path.
func (kb *KnowledgeBase) WriteCoverageXLSX(ctx context.Context, path string) error {
	cov, err := kb.Coverage(ctx)
	if err != nil {
		return err
	}
	return report.WriteXLSX(cov, path)
}

// ListSources returns all registered sources, newest first.
func (kb *KnowledgeBase) ListSources(ctx context.Context) ([]store.Source, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	return kb.store.ListSources(ctx)
}

// RunState returns the per-category pipeline state for one source.
func (kb *KnowledgeBase) RunState(ctx context.Context, sourceID string) (map[string]store.CategoryProgress, error) {
	if kb.closed {
		return nil, ErrStoreClosed
	}
	return kb.store.RunState(ctx, sourceID)
}

// Store returns the underlying store for diagnostic access.
func (kb *KnowledgeBase) Store() *store.Store {
	return kb.store
}
