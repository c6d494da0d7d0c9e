package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/brunobiangulo/lexkb/store"
)

// embedBatchSize is how many texts go into one embedding request.
const embedBatchSize = 32

// embedBatchTimeout caps one embedding request.
const embedBatchTimeout = 2 * time.Minute

// EmbedStats summarizes one embedding backfill run.
type EmbedStats struct {
	Table    string `json:"table"`
	Rows     int    `json:"rows"`
	Batches  int    `json:"batches"`
	Failed   int    `json:"failed_batches"`
	Embedded int    `json:"embedded"`
}

// SetupTableEmbeddings computes and stores embeddings for every row in a
// content table. Re-running replaces existing vectors, so it is safe to
// call after new rows land or after switching embedding models. Batches
// run on a bounded worker pool; a failed batch is logged and skipped
// unless every batch fails.
func (e *Engine) SetupTableEmbeddings(ctx context.Context, table string, workers int) (*EmbedStats, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}

	rows, err := e.store.AllRowTexts(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("loading rows from %s: %w", table, err)
	}

	stats := &EmbedStats{Table: table, Rows: len(rows)}
	if len(rows) == 0 {
		return stats, nil
	}

	if workers <= 0 {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating embedding worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for start := 0; start < len(rows); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		stats.Batches++

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			n, err := e.embedBatch(ctx, table, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				slog.Warn("search: embedding batch failed",
					"table", table, "batch_size", len(batch), "error", err)
				return
			}
			stats.Embedded += n
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			slog.Warn("search: embedding batch submit failed",
				"table", table, "error", submitErr)
		}
	}
	wg.Wait()

	if stats.Batches > 0 && stats.Failed == stats.Batches {
		return stats, fmt.Errorf("all %d embedding batches failed for %s", stats.Batches, table)
	}

	slog.Info("search: table embeddings ready",
		"table", table, "rows", stats.Rows,
		"embedded", stats.Embedded, "failed_batches", stats.Failed)
	return stats, nil
}

// SetupEmbeddings backfills embeddings for every content table.
func (e *Engine) SetupEmbeddings(ctx context.Context, workers int) ([]*EmbedStats, error) {
	tables, err := e.store.ContentTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing content tables: %w", err)
	}

	var all []*EmbedStats
	for _, table := range tables {
		stats, err := e.SetupTableEmbeddings(ctx, table, workers)
		if err != nil {
			return all, fmt.Errorf("table %s: %w", table, err)
		}
		all = append(all, stats)
	}
	return all, nil
}

func (e *Engine) embedBatch(ctx context.Context, table string, batch []store.RowText) (int, error) {
	batchCtx, cancel := context.WithTimeout(ctx, embedBatchTimeout)
	defer cancel()

	texts := make([]string, len(batch))
	seqs := make([]int64, len(batch))
	for i, r := range batch {
		texts[i] = r.Text
		seqs[i] = r.Seq
	}

	vectors, err := e.embedder.Embed(batchCtx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
	}

	if err := e.store.UpsertEmbeddings(ctx, table, seqs, vectors); err != nil {
		return 0, fmt.Errorf("storing embeddings: %w", err)
	}
	return len(vectors), nil
}
