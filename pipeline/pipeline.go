// Package pipeline orchestrates per-source extraction runs. Each
// category is a separately tracked stage with durable progress state, so
// an interrupted or partially failed run resumes from the categories
// that have not completed instead of starting over.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/lexkb/extract"
	"github.com/brunobiangulo/lexkb/section"
	"github.com/brunobiangulo/lexkb/store"
)

// CategoryExtractionError reports a failed category stage. The run
// continues past it; the error surfaces in the run report and the
// category stays retryable.
type CategoryExtractionError struct {
	SourceID string
	Category string
	Err      error
}

func (e *CategoryExtractionError) Error() string {
	return fmt.Sprintf("lexkb: extraction failed for source %s category %s: %v", e.SourceID, e.Category, e.Err)
}

func (e *CategoryExtractionError) Unwrap() error { return e.Err }

// StageResult is the outcome of one category stage within a run.
type StageResult struct {
	Category string `json:"category"`
	Status   string `json:"status"`
	Items    int    `json:"items"`
	Loaded   int    `json:"loaded"`
	Skipped  bool   `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes one pipeline run over a source.
type Report struct {
	SourceID          string        `json:"source_id"`
	Stages            []StageResult `json:"stages"`
	EntityCount       int           `json:"entity_count"`
	RelationshipCount int           `json:"relationship_count"`
	Completed         bool          `json:"completed"`
	Degraded          bool          `json:"degraded"`
	ElapsedMs         int64         `json:"elapsed_ms"`
}

// Failures returns the category errors recorded during the run.
func (r *Report) Failures() []string {
	var failed []string
	for _, s := range r.Stages {
		if s.Status == store.StatusFailed {
			failed = append(failed, s.Category)
		}
	}
	return failed
}

// Config holds pipeline runner configuration.
type Config struct {
	// Workers bounds oracle concurrency per stage. Zero lets the
	// oracle pick its default.
	Workers int

	// SkipRelationships leaves the relationships stage out of runs
	// entirely; entity-only knowledge bases complete without it.
	SkipRelationships bool
}

// Runner executes extraction pipelines against a store.
type Runner struct {
	store  *store.Store
	oracle extract.Oracle
	cfg    Config
}

// NewRunner creates a pipeline runner.
func NewRunner(s *store.Store, oracle extract.Oracle, cfg Config) *Runner {
	return &Runner{store: s, oracle: oracle, cfg: cfg}
}

// Run extracts the given categories plus relationships from one source.
// Categories already completed in a previous run are skipped. A category
// failure marks that stage failed and moves on; the run then reports
// degraded rather than completed, and the source stays un-extracted so a
// later run retries only the failed stages. Only a run that leaves every
// stage completed marks the source extracted.
func (r *Runner) Run(ctx context.Context, sourceID string, categories []extract.Category) (*Report, error) {
	start := time.Now()

	src, err := r.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	text, err := r.store.SourceContent(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	sections := section.Build(text)

	state, err := r.store.RunState(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading run state: %w", err)
	}

	report := &Report{SourceID: sourceID}

	slog.Info("pipeline: starting run",
		"source_id", sourceID, "source_name", src.Name,
		"categories", len(categories), "content_len", len(text))

	for _, cat := range categories {
		stage := r.runEntityStage(ctx, sourceID, text, cat, sections, state)
		report.Stages = append(report.Stages, stage)
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	if !r.cfg.SkipRelationships {
		relStage := r.runRelationshipStage(ctx, sourceID, text, sections, state)
		report.Stages = append(report.Stages, relStage)
	}

	r.finishReport(ctx, sourceID, report)
	report.ElapsedMs = time.Since(start).Milliseconds()

	slog.Info("pipeline: run finished",
		"source_id", sourceID,
		"completed", report.Completed, "degraded", report.Degraded,
		"entities", report.EntityCount, "relationships", report.RelationshipCount,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return report, nil
}

// runEntityStage processes one category: extract, ensure the category
// table, load candidates. Progress transitions are written before the
// work they describe so a crash never leaves a stage looking further
// along than it is.
func (r *Runner) runEntityStage(ctx context.Context, sourceID, text string, cat extract.Category, sections *section.Index, state map[string]store.CategoryProgress) StageResult {
	if prev, ok := state[cat.Name]; ok && prev.Status == store.StatusCompleted {
		slog.Debug("pipeline: category already completed, skipping",
			"source_id", sourceID, "category", cat.Name)
		return StageResult{Category: cat.Name, Status: store.StatusCompleted, Items: prev.ItemsCompleted, Skipped: true}
	}

	if err := r.startStage(ctx, sourceID, cat.Name); err != nil {
		return r.failStage(ctx, sourceID, cat.Name, err)
	}

	cands, err := r.oracle.ExtractEntities(ctx, text, cat, r.cfg.Workers)
	if err != nil {
		return r.failStage(ctx, sourceID, cat.Name, err)
	}

	if err := r.store.EnsureContentTable(ctx, cat.Name, cat.Attributes); err != nil {
		return r.failStage(ctx, sourceID, cat.Name, err)
	}

	loaded, err := r.store.LoadEntities(ctx, cat, cands, sourceID, sections)
	if err != nil {
		return r.failStage(ctx, sourceID, cat.Name, err)
	}

	if err := r.completeStage(ctx, sourceID, cat.Name, loaded, len(cands)); err != nil {
		return r.failStage(ctx, sourceID, cat.Name, err)
	}
	slog.Debug("pipeline: category stage complete",
		"source_id", sourceID, "category", cat.Name,
		"candidates", len(cands), "loaded", loaded)
	return StageResult{Category: cat.Name, Status: store.StatusCompleted, Items: len(cands), Loaded: loaded}
}

func (r *Runner) runRelationshipStage(ctx context.Context, sourceID, text string, sections *section.Index, state map[string]store.CategoryProgress) StageResult {
	name := extract.RelationshipsCategory

	if prev, ok := state[name]; ok && prev.Status == store.StatusCompleted {
		slog.Debug("pipeline: relationships already completed, skipping", "source_id", sourceID)
		return StageResult{Category: name, Status: store.StatusCompleted, Items: prev.ItemsCompleted, Skipped: true}
	}

	if err := r.startStage(ctx, sourceID, name); err != nil {
		return r.failStage(ctx, sourceID, name, err)
	}

	rels, err := r.oracle.ExtractRelationships(ctx, text, r.cfg.Workers)
	if err != nil {
		return r.failStage(ctx, sourceID, name, err)
	}

	loaded, err := r.store.LoadRelationships(ctx, rels, sourceID, sections)
	if err != nil {
		return r.failStage(ctx, sourceID, name, err)
	}

	if err := r.completeStage(ctx, sourceID, name, loaded, len(rels)); err != nil {
		return r.failStage(ctx, sourceID, name, err)
	}
	slog.Debug("pipeline: relationship stage complete",
		"source_id", sourceID, "relationships", len(rels), "loaded", loaded)
	return StageResult{Category: name, Status: store.StatusCompleted, Items: len(rels), Loaded: loaded}
}

func (r *Runner) startStage(ctx context.Context, sourceID, category string) error {
	return r.store.SaveProgress(ctx, store.CategoryProgress{
		SourceID:  sourceID,
		Category:  category,
		Status:    store.StatusInProgress,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// completeStage records the rows actually inserted as ItemsCompleted.
// The registry's final counts are summed from these, so they must track
// materialized rows, not oracle candidates.
func (r *Runner) completeStage(ctx context.Context, sourceID, category string, loaded, total int) error {
	return r.store.SaveProgress(ctx, store.CategoryProgress{
		SourceID:       sourceID,
		Category:       category,
		Status:         store.StatusCompleted,
		ItemsCompleted: loaded,
		ItemsTotal:     total,
		EndedAt:        time.Now().UTC().Format(time.RFC3339),
	})
}

// failStage records the failure durably and folds it into the report. A
// failed durable write is logged; the stage still reports failed.
func (r *Runner) failStage(ctx context.Context, sourceID, category string, cause error) StageResult {
	stageErr := &CategoryExtractionError{SourceID: sourceID, Category: category, Err: cause}
	slog.Warn("pipeline: category stage failed",
		"source_id", sourceID, "category", category, "error", cause)

	if err := r.store.SaveProgress(ctx, store.CategoryProgress{
		SourceID:     sourceID,
		Category:     category,
		Status:       store.StatusFailed,
		ErrorMessage: stageErr.Error(),
		EndedAt:      time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Error("pipeline: failed to record stage failure",
			"source_id", sourceID, "category", category, "error", err)
	}
	return StageResult{Category: category, Status: store.StatusFailed, Error: stageErr.Error()}
}

// finishReport decides completed vs degraded from the durable run state
// and, on full completion, marks the source extracted with the summed
// per-category totals.
func (r *Runner) finishReport(ctx context.Context, sourceID string, report *Report) {
	state, err := r.store.RunState(ctx, sourceID)
	if err != nil {
		slog.Error("pipeline: failed to reload run state", "source_id", sourceID, "error", err)
		report.Degraded = true
		return
	}

	entityCount := 0
	relationshipCount := 0
	allCompleted := len(state) > 0
	for category, progress := range state {
		if progress.Status != store.StatusCompleted {
			allCompleted = false
			continue
		}
		if category == extract.RelationshipsCategory {
			relationshipCount += progress.ItemsCompleted
		} else {
			entityCount += progress.ItemsCompleted
		}
	}

	report.EntityCount = entityCount
	report.RelationshipCount = relationshipCount
	report.Completed = allCompleted
	report.Degraded = !allCompleted

	if !allCompleted {
		return
	}
	if err := r.store.MarkExtracted(ctx, sourceID, entityCount, relationshipCount); err != nil {
		slog.Error("pipeline: failed to mark source extracted", "source_id", sourceID, "error", err)
		report.Completed = false
		report.Degraded = true
	}
}
