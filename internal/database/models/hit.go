package models

import "time"

// Hit is an item that ended with a captured classification.
type Hit struct {
	ID             int64             `json:"id"`
	JobID          string            `json:"job_id"`
	Input          string            `json:"input"`
	Classification string            `json:"classification"`
	Captured       map[string]string `json:"captured,omitempty"`
	Proxy          string            `json:"proxy,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
