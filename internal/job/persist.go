package job

import (
	"context"
	"encoding/json"
	"time"

	"go-config-runner/internal/database/models"
	"go-config-runner/internal/events"
	"go-config-runner/internal/proxypool"

	"github.com/rs/zerolog"
)

type HitRepository interface {
	SaveHit(ctx context.Context, hit *models.Hit) error
}

type StateRepository interface {
	SaveState(ctx context.Context, state *models.JobState) error
}

// ProxyRecorder stores the result of a proxy check.
type ProxyRecorder interface {
	RecordCheck(ctx context.Context, p proxypool.Proxy) error
}

// JobRepository persists job definitions and their last known state.
type JobRepository interface {
	StateRepository
	SaveJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]models.Job, error)
	LoadState(ctx context.Context, id string) (*models.JobState, error)
}

const (
	writeTimeout = 5 * time.Second
	writeBuffer  = 1024
)

type writeOp struct {
	hit   *models.Hit
	proxy *proxypool.Proxy
}

// writer persists hits and proxy checks off the worker goroutines. A full
// buffer blocks the worker rather than dropping a hit. Failures are logged.
type writer struct {
	jobID   string
	hits    HitRepository
	checked ProxyRecorder
	log     zerolog.Logger

	ops  chan writeOp
	done chan struct{}
}

func newWriter(jobID string, hits HitRepository, checked ProxyRecorder, log zerolog.Logger) *writer {
	w := &writer{
		jobID:   jobID,
		hits:    hits,
		checked: checked,
		log:     log,
		ops:     make(chan writeOp, writeBuffer),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *writer) loop() {
	defer close(w.done)
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		switch {
		case op.hit != nil && w.hits != nil:
			if err := w.hits.SaveHit(ctx, op.hit); err != nil {
				w.log.Warn().Err(err).Str("input", op.hit.Input).Msg("Failed to save hit")
			}
		case op.proxy != nil && w.checked != nil:
			if err := w.checked.RecordCheck(ctx, *op.proxy); err != nil {
				w.log.Warn().Err(err).Str("proxy", op.proxy.Address()).Msg("Failed to record proxy check")
			}
		}
		cancel()
	}
}

func (w *writer) hit(h HitRecord) {
	if w.hits == nil {
		return
	}
	w.ops <- writeOp{hit: &models.Hit{
		JobID:          h.JobID,
		Input:          h.Input,
		Classification: h.Classification.String(),
		Captured:       h.Captured,
		Proxy:          h.Proxy,
		CreatedAt:      h.Time,
	}}
}

func (w *writer) proxy(p proxypool.Proxy) {
	if w.checked == nil {
		return
	}
	w.ops <- writeOp{proxy: &p}
}

// close flushes the queue. It must not race with hit or proxy.
func (w *writer) close() {
	close(w.ops)
	<-w.done
}

// report publishes metrics and saves the job state every interval until the
// run ends.
func (j *Job) report(r *run, interval time.Duration) {
	defer close(r.reportDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopReport:
			return
		case <-ticker.C:
			snap := j.Snapshot()
			j.deps.Events.Publish(events.Event{Type: events.Metrics, JobID: j.id, Data: snap})

			// Lines still in flight are tested again after a restore.
			j.saveState(snap, r.resumeAt())
		}
	}
}

func (j *Job) saveState(snap Snapshot, resumeAt int64) {
	if j.deps.States == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to encode job state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = j.deps.States.SaveState(ctx, &models.JobState{
		JobID:     j.id,
		Status:    string(snap.Status),
		Position:  resumeAt,
		Metrics:   raw,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to save job state")
	}
}
