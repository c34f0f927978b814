// Package job binds a data pool, a proxy pool and an executor into a run
// with a lifecycle, live metrics and hit emission.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/datapool"
	"go-config-runner/internal/events"
	"go-config-runner/internal/executor"
	"go-config-runner/internal/logger"
	"go-config-runner/internal/parallel"
	"go-config-runner/internal/proxypool"
	"go-config-runner/internal/proxysource"

	"github.com/rs/zerolog"
)

type Kind string

const (
	MultiRun   Kind = "multi-run"
	ProxyCheck Kind = "proxy-check"
)

// DataFactory opens a fresh data pool for every run.
type DataFactory func(opts ...datapool.Option) (datapool.Pool, error)

// ProxyChecker validates a single proxy.
type ProxyChecker interface {
	Check(ctx context.Context, px *proxypool.Proxy) (executor.CheckResult, error)
}

type Settings struct {
	Bots       int
	UseProxies bool
	// ProxyWait bounds how long a worker waits for a proxy to be returned.
	ProxyWait time.Duration
	// MaxRetries bounds network failures and Retry classifications per item.
	MaxRetries int
	// BanLoopEvasion bounds bans and proxy exhaustion per item.
	BanLoopEvasion int
	// Capture lists the final classifications that produce hits. Nil means
	// Success and every custom status.
	Capture     []classify.Classification
	ItemTimeout time.Duration
	// MetricsInterval is the period of metrics events and state saves.
	MetricsInterval time.Duration
	// StartAt skips that many raw data lines on the next start only.
	StartAt int64
}

// Deps are the collaborators of a job. Only the ones its kind needs are
// required.
type Deps struct {
	Data        DataFactory
	Executor    executor.Executor
	Classifier  classify.Classifier
	Checker     ProxyChecker
	Proxies     *proxypool.Pool
	ProxySource proxysource.Source

	Hits    HitRepository
	States  StateRepository
	Checked ProxyRecorder
	Events  events.Publisher

	// Rate estimates CPM. Defaults to a one minute SlidingWindow.
	Rate RateEstimator
	Now  func() time.Time
}

type Job struct {
	id       string
	name     string
	kind     Kind
	deps     Deps
	metrics  *Metrics
	captures func(classify.Classification) bool
	log      zerolog.Logger

	mu         sync.Mutex
	settings   Settings
	state      State
	run        *run
	runs       int64
	lastErr    string
	startedAt  time.Time
	finishedAt time.Time
}

// run is the state of one Start..Idle cycle.
type run struct {
	par      *parallel.Parallelizer[*item, Outcome]
	settings Settings
	data     datapool.Pool
	total    int64
	writer   *writer

	mu       sync.Mutex
	consumed int64
	// unsettled holds the indexes of lines pulled from the source that have
	// no final outcome yet.
	unsettled map[int64]struct{}
	// pullMu makes reading a line and marking it unsettled one step.
	pullMu sync.Mutex

	stopReport chan struct{}
	reportDone chan struct{}
	done       chan struct{}
}

func (r *run) position() (size, pos int64) {
	if r.data != nil {
		return r.data.Size(), r.data.Position()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, r.consumed
}

// pull reads the next item through next and marks its line unsettled.
func (r *run) pull(next func() (*item, bool)) (*item, bool) {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()
	it, ok := next()
	if ok {
		r.mu.Lock()
		r.unsettled[it.line.Index] = struct{}{}
		r.mu.Unlock()
	}
	return it, ok
}

func (r *run) settle(index int64) {
	r.mu.Lock()
	delete(r.unsettled, index)
	r.mu.Unlock()
}

// resumeAt is the first raw line without a final outcome: the lowest
// unsettled index, or the read position when every pulled line is settled.
func (r *run) resumeAt() int64 {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()
	_, resume := r.position()

	r.mu.Lock()
	defer r.mu.Unlock()
	for idx := range r.unsettled {
		resume = min(resume, idx)
	}
	return max(resume, r.settings.StartAt)
}

func New(id, name string, kind Kind, settings Settings, deps Deps) (*Job, error) {
	switch kind {
	case MultiRun:
		if deps.Data == nil {
			return nil, ErrNoData
		}
		if deps.Executor == nil || deps.Classifier == nil {
			return nil, fmt.Errorf("multi-run job %s needs an executor and a classifier", id)
		}
		if settings.UseProxies && deps.Proxies == nil {
			return nil, fmt.Errorf("job %s uses proxies but has no proxy pool", id)
		}
	case ProxyCheck:
		if deps.Checker == nil || deps.Proxies == nil {
			return nil, fmt.Errorf("proxy-check job %s needs a checker and a proxy pool", id)
		}
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if settings.Bots < 1 {
		return nil, ErrInvalidBots
	}
	if settings.MetricsInterval <= 0 {
		settings.MetricsInterval = time.Second
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Job{
		id:       id,
		name:     name,
		kind:     kind,
		deps:     deps,
		settings: settings,
		state:    Idle,
		metrics:  newMetrics(deps.Rate),
		captures: captureSet(settings.Capture),
		log:      logger.WithComponent("job").With().Str("job_id", id).Logger(),
	}, nil
}

func captureSet(list []classify.Classification) func(classify.Classification) bool {
	if list == nil {
		return func(c classify.Classification) bool {
			return c.Kind == classify.Success || c.Kind == classify.Custom
		}
	}
	set := make(map[classify.Classification]bool, len(list))
	for _, c := range list {
		set[c] = true
	}
	return func(c classify.Classification) bool { return set[c] }
}

func (j *Job) ID() string   { return j.id }
func (j *Job) Name() string { return j.name }
func (j *Job) Kind() Kind   { return j.kind }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Start prepares the data and proxies and begins the run. It returns once
// items are being dispatched; a job that cannot start goes back to Idle and
// the cause is returned.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.state != Idle {
		defer j.mu.Unlock()
		return &StateError{Op: "start", Current: j.state}
	}
	j.setStateLocked(Starting)
	settings := j.settings
	j.mu.Unlock()

	r, src, err := j.prepare(ctx, settings)

	j.mu.Lock()
	defer j.mu.Unlock()

	if err != nil {
		j.lastErr = err.Error()
		j.setStateLocked(Idle)
		j.log.Error().Err(err).Msg("Job failed to start")
		return err
	}

	j.metrics.reset()
	j.run = r
	j.lastErr = ""
	j.startedAt = j.deps.Now()
	j.finishedAt = time.Time{}
	j.settings.StartAt = 0

	if err := r.par.Start(context.WithoutCancel(ctx), src, settings.Bots); err != nil {
		r.writer.close()
		j.setStateLocked(Idle)
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	go j.report(r, settings.MetricsInterval)

	j.setStateLocked(Running)
	j.log.Info().Int("bots", settings.Bots).Int64("data_size", r.total).Msg("Job started")
	return nil
}

func (j *Job) prepare(ctx context.Context, settings Settings) (*run, parallel.Source[*item], error) {
	r := &run{
		settings:   settings,
		unsettled:  make(map[int64]struct{}),
		stopReport: make(chan struct{}),
		reportDone: make(chan struct{}),
		done:       make(chan struct{}),
		writer:     newWriter(j.id, j.deps.Hits, j.deps.Checked, j.log),
	}

	needsProxies := j.kind == ProxyCheck || settings.UseProxies
	if needsProxies && j.deps.Proxies.Len() == 0 && j.deps.ProxySource != nil {
		if _, err := j.reloadProxies(ctx); err != nil {
			r.writer.close()
			return nil, nil, err
		}
	}

	var src parallel.Source[*item]
	switch j.kind {
	case MultiRun:
		if settings.UseProxies && !j.proxiesUsable() {
			r.writer.close()
			return nil, nil, ErrNoProxies
		}
		data, err := j.deps.Data(datapool.WithStartAt(settings.StartAt))
		if err != nil {
			r.writer.close()
			return nil, nil, fmt.Errorf("%w: %v", ErrNoData, err)
		}
		r.data = data
		r.total = data.Size()
		src = parallel.SourceFunc[*item](func() (*item, bool) {
			return r.pull(func() (*item, bool) {
				line, ok := data.Next()
				if !ok {
					return nil, false
				}
				return &item{line: line}, true
			})
		})

	case ProxyCheck:
		proxies := j.deps.Proxies.List()
		if len(proxies) == 0 {
			r.writer.close()
			return nil, nil, ErrNoProxies
		}
		r.total = int64(len(proxies))
		next := 0
		src = parallel.SourceFunc[*item](func() (*item, bool) {
			return r.pull(func() (*item, bool) {
				if next >= len(proxies) {
					return nil, false
				}
				px := proxies[next]
				next++
				r.mu.Lock()
				r.consumed++
				r.mu.Unlock()
				return &item{line: datapool.Line{Index: int64(next - 1), Value: px.Address()}, proxy: &px}, true
			})
		})
	}

	r.par = parallel.New(j.work(r), parallel.Handlers[*item, Outcome]{
		OnItemCompleted: func(it *item, o Outcome) { j.handleOutcome(r, it, o) },
		OnItemFailed:    func(it *item, err error) { j.handleFailure(r, it, err) },
		OnStatusChanged: j.handleDispatchStatus,
		OnCompleted:     func(err error) { j.handleCompleted(r, err) },
	})
	return r, src, nil
}

func (j *Job) proxiesUsable() bool {
	s := j.deps.Proxies.Snapshot()
	if s.Available > 0 {
		return true
	}
	return j.deps.Proxies.Options().AllowDegraded && s.Total > s.Retired
}

// Pause stops dispatching. The job is Pausing until the in-flight items
// finish and then Paused.
func (j *Job) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != Running {
		return &StateError{Op: "pause", Current: j.state}
	}
	if err := j.run.par.Pause(); err != nil {
		return j.dispatcherErrLocked("pause", err)
	}
	j.setStateLocked(Pausing)
	return nil
}

func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != Paused {
		return &StateError{Op: "resume", Current: j.state}
	}
	j.setStateLocked(Resuming)
	if err := j.run.par.Resume(); err != nil {
		j.setStateLocked(Paused)
		return j.dispatcherErrLocked("resume", err)
	}
	j.setStateLocked(Running)
	return nil
}

// dispatcherErrLocked reports a dispatcher that completed on its own before
// the job noticed as a rejected command.
func (j *Job) dispatcherErrLocked(op string, err error) error {
	if errors.Is(err, parallel.ErrNotRunning) {
		return &StateError{Op: op, Current: j.state}
	}
	return fmt.Errorf("failed to %s dispatcher: %w", op, err)
}

// Stop ends the run after the in-flight items finish.
func (j *Job) Stop() error {
	return j.abort(true)
}

// Abort ends the run and cancels the in-flight items. Their results are not
// counted.
func (j *Job) Abort() error {
	return j.abort(false)
}

func (j *Job) abort(graceful bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	op := "abort"
	if graceful {
		op = "stop"
	}

	switch j.state {
	case Running, Pausing, Paused:
	case Stopping:
		if graceful {
			return &StateError{Op: op, Current: j.state}
		}
	default:
		return &StateError{Op: op, Current: j.state}
	}

	if graceful {
		j.setStateLocked(Stopping)
	} else {
		j.setStateLocked(Aborting)
	}
	// The dispatcher may have completed on its own in the meantime, the run
	// is ending either way.
	_ = j.run.par.Abort(graceful)
	j.log.Info().Bool("graceful", graceful).Msg("Job stopping")
	return nil
}

// SetConcurrency changes the number of bots, also while running.
func (j *Job) SetConcurrency(n int) error {
	if n < 1 {
		return ErrInvalidBots
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Transient() {
		return &StateError{Op: "set bots of", Current: j.state}
	}
	j.settings.Bots = n
	if j.state != Idle {
		if err := j.run.par.SetConcurrency(n); err != nil {
			return err
		}
	}
	j.log.Info().Int("bots", n).Msg("Bots changed")
	return nil
}

// ReloadProxies replaces the proxy pool content from the job's proxy source.
// Proxies checked out from the previous generation become stale.
func (j *Job) ReloadProxies(ctx context.Context) (int, error) {
	j.mu.Lock()
	state := j.state
	j.mu.Unlock()

	if state.Transient() {
		return 0, &StateError{Op: "reload proxies of", Current: state}
	}
	return j.reloadProxies(ctx)
}

func (j *Job) reloadProxies(ctx context.Context) (int, error) {
	if j.deps.Proxies == nil || j.deps.ProxySource == nil {
		return 0, ErrNoProxySrc
	}
	proxies, err := j.deps.ProxySource.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load proxies from %s: %w", j.deps.ProxySource.Name(), err)
	}
	j.deps.Proxies.Reload(proxies)
	j.log.Info().Int("count", j.deps.Proxies.Len()).Str("source", j.deps.ProxySource.Name()).Msg("Proxies reloaded")
	return j.deps.Proxies.Len(), nil
}

// Wait blocks until the current run, if any, has ended.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	r := j.run
	j.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) Settings() Settings {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.settings
}

// Snapshot returns the current metrics and lifecycle state.
func (j *Job) Snapshot() Snapshot {
	now := j.deps.Now()

	j.mu.Lock()
	s := Snapshot{
		ID:        j.id,
		Name:      j.name,
		Kind:      j.kind,
		Status:    j.state,
		Bots:      j.settings.Bots,
		Runs:      j.runs,
		LastError: j.lastErr,
		StartedAt: j.startedAt,
	}
	switch {
	case j.startedAt.IsZero():
	case !j.finishedAt.IsZero():
		s.ElapsedSeconds = j.finishedAt.Sub(j.startedAt).Seconds()
	default:
		s.ElapsedSeconds = now.Sub(j.startedAt).Seconds()
	}
	r := j.run
	j.mu.Unlock()

	j.metrics.fill(&s, now)
	if r != nil {
		p := r.par.Progress()
		s.ActiveBots = p.Active
		s.DataSize, s.Position = r.position()
	}
	if j.deps.Proxies != nil {
		ps := j.deps.Proxies.Snapshot()
		s.BannedProxies = ps.Banned
		if j.kind == ProxyCheck {
			s.AliveProxies = ps.Working
		} else {
			s.AliveProxies = ps.Total - ps.Banned - ps.NotWorking
		}
	}
	s.estimate()
	return s
}

func (j *Job) handleDispatchStatus(s parallel.Status) {
	if s != parallel.Paused {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Pausing {
		j.setStateLocked(Paused)
		j.log.Info().Msg("Job paused")
	}
}

func (j *Job) handleCompleted(r *run, err error) {
	j.mu.Lock()
	if j.state == Running || j.state == Pausing || j.state == Paused {
		j.setStateLocked(Stopping)
	}
	j.mu.Unlock()

	close(r.stopReport)
	<-r.reportDone
	r.writer.close()
	// A read error ends the pool early, so the cursor is kept for the next run.
	var derr error
	var resume int64
	if r.data != nil {
		if derr = r.data.Err(); derr != nil {
			resume = r.resumeAt()
		}
	}
	if c, ok := r.data.(io.Closer); ok {
		_ = c.Close()
	}

	j.mu.Lock()
	j.runs++
	j.finishedAt = j.deps.Now()
	if err != nil {
		j.lastErr = err.Error()
		j.log.Error().Err(err).Msg("Job run crashed")
	}
	if derr != nil {
		j.lastErr = derr.Error()
		j.log.Error().Err(derr).Msg("Data source failed")
	}
	j.setStateLocked(Idle)
	j.mu.Unlock()

	snap := j.Snapshot()
	j.deps.Events.Publish(events.Event{Type: events.Metrics, JobID: j.id, Data: snap})
	j.saveState(snap, resume)
	j.log.Info().
		Int64("tested", snap.Tested).
		Int64("hits", snap.Hits).
		Float64("elapsed", snap.ElapsedSeconds).
		Msg("Job finished")
	close(r.done)
}

func (j *Job) setStateLocked(s State) {
	if j.state == s {
		return
	}
	prev := j.state
	j.state = s
	j.deps.Events.Publish(events.Event{
		Type:  events.StatusChanged,
		JobID: j.id,
		Data:  map[string]string{"status": string(s), "previous": string(prev)},
	})
}
