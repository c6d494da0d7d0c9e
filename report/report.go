// Package report builds coverage summaries over the knowledge base:
// per-source and per-table row counts, extraction status, and run state.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/brunobiangulo/lexkb/store"
)

// SourceCoverage summarizes one source's extraction state.
type SourceCoverage struct {
	SourceID          string         `json:"source_id"`
	Name              string         `json:"name"`
	Size              int64          `json:"size"`
	ExtractionStatus  string         `json:"extraction_status"`
	EntityCount       int            `json:"entity_count"`
	RelationshipCount int            `json:"relationship_count"`
	TableCounts       map[string]int `json:"table_counts"`
	FailedCategories  []string       `json:"failed_categories,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// Coverage is a knowledge base wide extraction summary.
type Coverage struct {
	Sources     []SourceCoverage `json:"sources"`
	Tables      []string         `json:"tables"`
	TableTotals map[string]int   `json:"table_totals"`
	GeneratedAt string           `json:"generated_at"`
}

// Build assembles a coverage report from the store.
func Build(ctx context.Context, s *store.Store) (*Coverage, error) {
	sources, err := s.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	tables, err := s.ContentTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing content tables: %w", err)
	}
	sort.Strings(tables)

	cov := &Coverage{
		Tables:      tables,
		TableTotals: make(map[string]int, len(tables)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, table := range tables {
		total, err := s.CountRows(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		cov.TableTotals[table] = total
	}

	for _, src := range sources {
		sc := SourceCoverage{
			SourceID:          src.ID,
			Name:              src.Name,
			Size:              src.Size,
			ExtractionStatus:  src.ExtractionStatus,
			EntityCount:       src.EntityCount,
			RelationshipCount: src.RelationshipCount,
			TableCounts:       make(map[string]int, len(tables)),
			CreatedAt:         src.CreatedAt,
		}

		for _, table := range tables {
			n, err := s.CountRowsBySource(ctx, table, src.ID)
			if err != nil {
				return nil, fmt.Errorf("counting %s for %s: %w", table, src.ID, err)
			}
			sc.TableCounts[table] = n
		}

		state, err := s.RunState(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("run state for %s: %w", src.ID, err)
		}
		for category, progress := range state {
			if progress.Status == store.StatusFailed {
				sc.FailedCategories = append(sc.FailedCategories, category)
			}
		}
		sort.Strings(sc.FailedCategories)

		cov.Sources = append(cov.Sources, sc)
	}

	return cov, nil
}
