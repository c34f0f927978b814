package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go-config-runner/internal/database/models"
	"go-config-runner/internal/logger"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Builder turns a validated definition into a job with its collaborators.
type Builder func(def Definition) (*Job, error)

type entry struct {
	def     Definition
	job     *Job
	created time.Time
}

// Manager owns every job of the process and routes commands to them by id.
type Manager struct {
	mu    sync.RWMutex
	jobs  map[string]*entry
	build Builder
	repo  JobRepository
	log   zerolog.Logger
}

// NewManager returns an empty manager. repo may be nil, jobs are then kept
// in memory only.
func NewManager(build Builder, repo JobRepository) *Manager {
	return &Manager{
		jobs:  make(map[string]*entry),
		build: build,
		repo:  repo,
		log:   logger.WithComponent("job-manager"),
	}
}

// Create validates def, builds the job and persists it. An empty ID is
// filled in.
func (m *Manager) Create(ctx context.Context, def Definition) (*Job, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[def.ID]; ok {
		return nil, fmt.Errorf("job %s already exists", def.ID)
	}

	j, err := m.build(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build job: %w", err)
	}

	now := time.Now().UTC()
	if err := m.saveLocked(ctx, def, now); err != nil {
		return nil, err
	}
	m.jobs[def.ID] = &entry{def: def, job: j, created: now}

	m.log.Info().Str("job_id", def.ID).Str("kind", string(def.Kind)).Msg("Job created")
	return j, nil
}

func (m *Manager) saveLocked(ctx context.Context, def Definition, created time.Time) error {
	if m.repo == nil {
		return nil
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode job definition: %w", err)
	}
	err = m.repo.SaveJob(ctx, &models.Job{
		ID:         def.ID,
		Name:       def.Name,
		Kind:       string(def.Kind),
		Definition: raw,
		CreatedAt:  created,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.job, nil
}

// Definition returns the definition a job was created from, with its
// current bot count.
func (m *Manager) Definition(id string) (Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.def, nil
}

// List returns the jobs in creation order.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool {
		if entries[a].created.Equal(entries[b].created) {
			return entries[a].def.ID < entries[b].def.ID
		}
		return entries[a].created.Before(entries[b].created)
	})

	jobs := make([]*Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job
	}
	return jobs
}

// Delete removes an idle job.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if st := e.job.State(); st != Idle {
		return &StateError{Op: "delete", Current: st}
	}

	if m.repo != nil {
		if err := m.repo.DeleteJob(ctx, id); err != nil {
			return fmt.Errorf("failed to delete job from database: %w", err)
		}
	}
	delete(m.jobs, id)

	m.log.Info().Str("job_id", id).Msg("Job deleted")
	return nil
}

func (m *Manager) Snapshot(id string) (Snapshot, error) {
	j, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.Snapshot(), nil
}

func (m *Manager) Start(ctx context.Context, id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	return j.Start(ctx)
}

func (m *Manager) Pause(id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	return j.Pause()
}

func (m *Manager) Resume(id string) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	return j.Resume()
}

// Abort stops a job. A graceful abort lets in-flight items finish.
func (m *Manager) Abort(id string, graceful bool) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	if graceful {
		return j.Stop()
	}
	return j.Abort()
}

// SetConcurrency changes the bots of a job and persists the new count.
func (m *Manager) SetConcurrency(ctx context.Context, id string, n int) error {
	j, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := j.SetConcurrency(n); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil
	}
	e.def.Bots = n
	if err := m.saveLocked(ctx, e.def, e.created); err != nil {
		m.log.Warn().Err(err).Str("job_id", id).Msg("Failed to persist bot count")
	}
	return nil
}

func (m *Manager) ReloadProxies(ctx context.Context, id string) (int, error) {
	j, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return j.ReloadProxies(ctx)
}

// Restore re-creates the persisted jobs as Idle. A job that was interrupted
// mid-run resumes from its saved cursor on the next start. Jobs that fail
// to restore are logged and skipped.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	rows, err := m.repo.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load jobs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for _, row := range rows {
		var def Definition
		if err := json.Unmarshal(row.Definition, &def); err != nil {
			m.log.Error().Err(err).Str("job_id", row.ID).Msg("Failed to decode job definition")
			continue
		}
		def.ID = row.ID

		state, err := m.repo.LoadState(ctx, row.ID)
		if err != nil {
			m.log.Warn().Err(err).Str("job_id", row.ID).Msg("Failed to load job state")
		}

		// The cursor only affects the next start. A job that has run before
		// already used the start_at of its definition, so its saved position
		// replaces it, 0 included.
		withCursor := def
		if state != nil {
			withCursor.StartAt = state.Position
		}

		j, err := m.build(withCursor)
		if err != nil {
			m.log.Error().Err(err).Str("job_id", row.ID).Msg("Failed to restore job")
			continue
		}
		m.jobs[def.ID] = &entry{def: def, job: j, created: row.CreatedAt}
		restored++
	}

	m.log.Info().Int("count", restored).Msg("Jobs restored")
	return restored, nil
}

// StopAll hard aborts every running job and waits for the runs to end.
func (m *Manager) StopAll(ctx context.Context) error {
	jobs := m.List()

	var result *multierror.Error
	for _, j := range jobs {
		if err := j.Abort(); err != nil && !errors.Is(err, ErrInvalidState) {
			result = multierror.Append(result, fmt.Errorf("job %s: %w", j.ID(), err))
		}
	}
	for _, j := range jobs {
		if err := j.Wait(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("job %s: %w", j.ID(), err))
		}
	}
	return result.ErrorOrNil()
}
