package job

import (
	"sync"
	"sync/atomic"
	"time"

	"go-config-runner/internal/classify"
)

// RateEstimator turns completion timestamps into completions per minute.
type RateEstimator interface {
	Record(t time.Time)
	Rate(now time.Time) float64
	Reset()
}

// SlidingWindow counts completions in one-second buckets over the trailing
// window. Its rate is the number of completions inside the window scaled to
// one minute, so it falls to zero one window after completions stop.
type SlidingWindow struct {
	mu      sync.Mutex
	window  int64
	buckets []int64
	seconds []int64
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	n := int64(window / time.Second)
	if n < 1 {
		n = 1
	}
	return &SlidingWindow{
		window:  n,
		buckets: make([]int64, n),
		seconds: make([]int64, n),
	}
}

func (w *SlidingWindow) Record(t time.Time) {
	sec := t.Unix()
	i := sec % w.window

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seconds[i] != sec {
		w.seconds[i] = sec
		w.buckets[i] = 0
	}
	w.buckets[i]++
}

func (w *SlidingWindow) Rate(now time.Time) float64 {
	cutoff := now.Unix() - w.window

	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for i, sec := range w.seconds {
		if sec > cutoff && sec <= now.Unix() {
			total += w.buckets[i]
		}
	}
	return float64(total) * 60 / float64(w.window)
}

func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.buckets {
		w.buckets[i] = 0
		w.seconds[i] = 0
	}
}

// Metrics are the live counters of a job. Each counter is updated on its own
// so readers may see a slightly inconsistent combination.
type Metrics struct {
	tested  atomic.Int64
	hits    atomic.Int64
	fails   atomic.Int64
	bans    atomic.Int64
	retries atomic.Int64
	errors  atomic.Int64

	mu          sync.Mutex
	customHits  map[string]int64
	failReasons map[string]int64

	cpm RateEstimator
}

func newMetrics(cpm RateEstimator) *Metrics {
	if cpm == nil {
		cpm = NewSlidingWindow(time.Minute)
	}
	return &Metrics{
		customHits:  make(map[string]int64),
		failReasons: make(map[string]int64),
		cpm:         cpm,
	}
}

func (m *Metrics) reset() {
	m.tested.Store(0)
	m.hits.Store(0)
	m.fails.Store(0)
	m.bans.Store(0)
	m.retries.Store(0)
	m.errors.Store(0)

	m.mu.Lock()
	m.customHits = make(map[string]int64)
	m.failReasons = make(map[string]int64)
	m.mu.Unlock()

	m.cpm.Reset()
}

// recordTerminal counts one item that reached its final classification.
func (m *Metrics) recordTerminal(c classify.Classification, reason string, at time.Time) {
	m.tested.Add(1)
	switch c.Kind {
	case classify.Success:
		m.hits.Add(1)
	case classify.Custom:
		m.mu.Lock()
		m.customHits[c.Name]++
		m.mu.Unlock()
	case classify.Fail:
		m.fails.Add(1)
		if reason == "" {
			reason = ReasonGeneric
		}
		m.mu.Lock()
		m.failReasons[reason]++
		m.mu.Unlock()
	case classify.Error:
		m.errors.Add(1)
	}
	m.cpm.Record(at)
}

func (m *Metrics) recordRetry(banned bool) {
	m.retries.Add(1)
	if banned {
		m.bans.Add(1)
	}
}

// Snapshot is a point-in-time view of a job, as published to observers.
type Snapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Status State  `json:"status"`

	Tested      int64            `json:"tested"`
	Hits        int64            `json:"hits"`
	CustomHits  map[string]int64 `json:"custom_hits"`
	Fails       int64            `json:"fails"`
	FailReasons map[string]int64 `json:"fail_reasons"`
	Bans        int64            `json:"bans"`
	Retries     int64            `json:"retries"`
	Errors      int64            `json:"errors"`

	AliveProxies  int `json:"alive_proxies"`
	BannedProxies int `json:"banned_proxies"`

	CPM              float64   `json:"cpm"`
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	RemainingSeconds *float64  `json:"remaining_seconds"`
	Progress         *float64  `json:"progress"`
	StartedAt        time.Time `json:"started_at"`

	Bots       int   `json:"bots"`
	ActiveBots int   `json:"active_bots"`
	DataSize   int64 `json:"data_size"`
	Position   int64 `json:"position"`

	// Runs counts completed runs, so observers can tell that a run ended
	// between two polls.
	Runs      int64  `json:"runs"`
	LastError string `json:"last_error,omitempty"`
}

func (m *Metrics) fill(s *Snapshot, now time.Time) {
	s.Tested = m.tested.Load()
	s.Hits = m.hits.Load()
	s.Fails = m.fails.Load()
	s.Bans = m.bans.Load()
	s.Retries = m.retries.Load()
	s.Errors = m.errors.Load()

	m.mu.Lock()
	s.CustomHits = make(map[string]int64, len(m.customHits))
	for k, v := range m.customHits {
		s.CustomHits[k] = v
	}
	s.FailReasons = make(map[string]int64, len(m.failReasons))
	for k, v := range m.failReasons {
		s.FailReasons[k] = v
	}
	m.mu.Unlock()

	s.CPM = m.cpm.Rate(now)
}

// Custom returns the count of one custom status.
func (s Snapshot) Custom(name string) int64 {
	return s.CustomHits[name]
}

// estimate fills Progress and RemainingSeconds. Both stay nil for unbounded
// data, and the remaining time also while nothing completes.
func (s *Snapshot) estimate() {
	if s.DataSize <= 0 {
		return
	}
	progress := float64(s.Position) / float64(s.DataSize)
	if progress > 1 {
		progress = 1
	}
	s.Progress = &progress

	if s.CPM <= 0 {
		return
	}
	remainingItems := s.DataSize - s.Position + int64(s.ActiveBots)
	if remainingItems < 0 {
		remainingItems = 0
	}
	remaining := float64(remainingItems) / s.CPM * 60
	s.RemainingSeconds = &remaining
}
