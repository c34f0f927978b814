package job

import (
	"time"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/datapool"
	"go-config-runner/internal/proxypool"
)

// Fail and error reasons.
const (
	ReasonGeneric           = "generic"
	ReasonBanLoopEvasion    = "ban-loop-evasion"
	ReasonProxyExhausted    = "proxy-exhausted"
	ReasonRetryLimit        = "retry-limit"
	ReasonNetworkRetryLimit = "network-retry-limit"
	ReasonErrorLimit        = "error-limit"
	ReasonFault             = "fault"
)

// maxConsecutiveErrors terminalizes an item whose executions keep ending in
// Error.
const maxConsecutiveErrors = 3

// item is one unit of work and the attempts it has used so far. A requeued
// item is a copy with the counters advanced, never the same pointer handed
// to two workers.
type item struct {
	line  datapool.Line
	proxy *proxypool.Proxy // proxy-check jobs only

	attempts  int
	bans      int // bans and proxy exhaustion, bounded by ban-loop evasion
	retries   int // network failures and Retry classifications
	errStreak int
}

func (it *item) input() string {
	if it.proxy != nil {
		return it.proxy.Address()
	}
	return it.line.Value
}

func (it *item) next() *item {
	cp := *it
	return &cp
}

// Outcome is the result of one attempt at an item.
type Outcome struct {
	Classification classify.Classification
	// Final is false when the item was requeued for another attempt.
	Final    bool
	Reason   string
	Captured map[string]string
	Proxy    string
	Banned   bool
	Err      error
}

// HitRecord is an item whose final classification is in the capture set.
type HitRecord struct {
	JobID          string                  `json:"job_id"`
	Input          string                  `json:"input"`
	Captured       map[string]string       `json:"captured,omitempty"`
	Proxy          string                  `json:"proxy,omitempty"`
	Classification classify.Classification `json:"classification"`
	Time           time.Time               `json:"time"`
}
