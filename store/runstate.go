package store

import (
	"context"
)

// Category statuses persisted in pipeline_runs.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// CategoryProgress is one row of pipeline run state, keyed by
// (source_id, category).
type CategoryProgress struct {
	SourceID       string `json:"source_id"`
	Category       string `json:"category"`
	Status         string `json:"status"`
	ItemsCompleted int    `json:"items_completed"`
	ItemsTotal     int    `json:"items_total"`
	StartedAt      string `json:"started_at,omitempty"`
	EndedAt        string `json:"ended_at,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// SaveProgress upserts one category's progress row. Every state-machine
// transition goes through here so the on-disk state always reflects the
// last completed transition.
func (s *Store) SaveProgress(ctx context.Context, p CategoryProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (source_id, category, status, items_completed,
			items_total, started_at, ended_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, category) DO UPDATE SET
			status = excluded.status,
			items_completed = excluded.items_completed,
			items_total = excluded.items_total,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			error_message = excluded.error_message
	`, p.SourceID, p.Category, p.Status, p.ItemsCompleted, p.ItemsTotal,
		nullable(p.StartedAt), nullable(p.EndedAt), nullable(p.ErrorMessage))
	return err
}

// RunState returns the persisted progress for every category of a source,
// keyed by category name. An empty map means no run has been started.
func (s *Store) RunState(ctx context.Context, sourceID string) (map[string]CategoryProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, category, status, items_completed, items_total,
			COALESCE(started_at, ''), COALESCE(ended_at, ''), COALESCE(error_message, '')
		FROM pipeline_runs WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]CategoryProgress)
	for rows.Next() {
		var p CategoryProgress
		if err := rows.Scan(&p.SourceID, &p.Category, &p.Status, &p.ItemsCompleted,
			&p.ItemsTotal, &p.StartedAt, &p.EndedAt, &p.ErrorMessage); err != nil {
			return nil, err
		}
		state[p.Category] = p
	}
	return state, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
