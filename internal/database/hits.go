package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go-config-runner/internal/database/models"
)

type HitRepository struct {
	db *sql.DB
}

func NewHitRepository(db *sql.DB) *HitRepository {
	return &HitRepository{db: db}
}

func (r *HitRepository) SaveHit(ctx context.Context, h *models.Hit) error {
	captured, err := json.Marshal(h.Captured)
	if err != nil {
		return fmt.Errorf("failed to encode captured data: %w", err)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO hits (job_id, input, classification, captured, proxy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.JobID, h.Input, h.Classification, string(captured), h.Proxy, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert hit: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	h.ID = id
	return nil
}

// ListHits returns a job's hits oldest first. A limit of 0 returns all of them.
func (r *HitRepository) ListHits(ctx context.Context, jobID string, limit, offset int) ([]models.Hit, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, input, classification, captured, proxy, created_at
		FROM hits
		WHERE job_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query hits: %w", err)
	}
	defer rows.Close()

	hits := []models.Hit{}
	for rows.Next() {
		var h models.Hit
		var captured string
		if err := rows.Scan(&h.ID, &h.JobID, &h.Input, &h.Classification, &captured, &h.Proxy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		if err := json.Unmarshal([]byte(captured), &h.Captured); err != nil {
			return nil, fmt.Errorf("failed to decode captured data of hit %d: %w", h.ID, err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (r *HitRepository) CountHits(ctx context.Context, jobID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM hits WHERE job_id = ?", jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count hits: %w", err)
	}
	return n, nil
}

func (r *HitRepository) DeleteHits(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM hits WHERE job_id = ?", jobID); err != nil {
		return fmt.Errorf("failed to delete hits: %w", err)
	}
	return nil
}
