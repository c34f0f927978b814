package models

import (
	"encoding/json"
	"time"
)

type TriggeredAction struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	JobID      string          `json:"job_id"`
	Enabled    bool            `json:"enabled"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
