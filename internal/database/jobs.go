package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-config-runner/internal/database/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// SaveJob inserts the job or replaces its definition.
func (r *JobRepository) SaveJob(ctx context.Context, j *models.Job) error {
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = time.Now().UTC()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = j.UpdatedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, kind, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, j.ID, j.Name, j.Kind, string(j.Definition), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM job_states WHERE job_id = ?",
		"DELETE FROM hits WHERE job_id = ?",
		"DELETE FROM jobs WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
	}
	return tx.Commit()
}

func (r *JobRepository) ListJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, kind, definition, created_at, updated_at
		FROM jobs
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		var def string
		if err := rows.Scan(&j.ID, &j.Name, &j.Kind, &def, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.Definition = []byte(def)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) SaveState(ctx context.Context, s *models.JobState) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	metrics := string(s.Metrics)
	if metrics == "" {
		metrics = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_states (job_id, status, position, metrics, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			position = excluded.position,
			metrics = excluded.metrics,
			updated_at = excluded.updated_at
	`, s.JobID, s.Status, s.Position, metrics, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job state: %w", err)
	}
	return nil
}

// LoadState returns nil without error for a job that never saved a state.
func (r *JobRepository) LoadState(ctx context.Context, id string) (*models.JobState, error) {
	var s models.JobState
	var metrics string
	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, status, position, metrics, updated_at
		FROM job_states WHERE job_id = ?
	`, id).Scan(&s.JobID, &s.Status, &s.Position, &metrics, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job state: %w", err)
	}
	s.Metrics = []byte(metrics)
	return &s, nil
}
