package models

import (
	"time"
)

// Proxy is a proxy imported into a named group.
type Proxy struct {
	ID            int64     `json:"id"`
	GroupName     string    `json:"group"`
	Address       string    `json:"address"` // "host:port"
	Type          string    `json:"type"`    // "http", "socks4", "socks4a" or "socks5"
	Username      string    `json:"username,omitempty"`
	Password      string    `json:"password,omitempty"`
	Status        string    `json:"status"`
	LatencyMs     int64     `json:"latency_ms"`
	Country       string    `json:"country,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
}
