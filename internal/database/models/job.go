package models

import (
	"encoding/json"
	"time"
)

// Job is a persisted job definition. Definition is the JSON the job package
// decodes.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JobState is the last known progress of a job, saved while it runs.
type JobState struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"`
	Position  int64           `json:"position"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
