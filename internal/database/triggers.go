package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go-config-runner/internal/database/models"
)

type TriggeredActionRepository struct {
	db *sql.DB
}

func NewTriggeredActionRepository(db *sql.DB) *TriggeredActionRepository {
	return &TriggeredActionRepository{db: db}
}

func (r *TriggeredActionRepository) SaveTriggeredAction(ctx context.Context, ta *models.TriggeredAction) error {
	if ta.UpdatedAt.IsZero() {
		ta.UpdatedAt = time.Now().UTC()
	}
	if ta.CreatedAt.IsZero() {
		ta.CreatedAt = ta.UpdatedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO triggered_actions (id, name, job_id, enabled, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			job_id = excluded.job_id,
			enabled = excluded.enabled,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, ta.ID, ta.Name, ta.JobID, ta.Enabled, string(ta.Definition), ta.CreatedAt, ta.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save triggered action: %w", err)
	}
	return nil
}

func (r *TriggeredActionRepository) DeleteTriggeredAction(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM triggered_actions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete triggered action: %w", err)
	}
	return nil
}

func (r *TriggeredActionRepository) ListTriggeredActions(ctx context.Context) ([]models.TriggeredAction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, job_id, enabled, definition, created_at, updated_at
		FROM triggered_actions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered actions: %w", err)
	}
	defer rows.Close()

	var out []models.TriggeredAction
	for rows.Next() {
		var ta models.TriggeredAction
		var def string
		if err := rows.Scan(&ta.ID, &ta.Name, &ta.JobID, &ta.Enabled, &def, &ta.CreatedAt, &ta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan triggered action: %w", err)
		}
		ta.Definition = []byte(def)
		out = append(out, ta)
	}
	return out, rows.Err()
}
