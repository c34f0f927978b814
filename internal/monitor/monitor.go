// Package monitor evaluates triggered actions against job snapshots on a
// fixed tick and runs their actions through the job command surface.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-config-runner/internal/database/models"
	"go-config-runner/internal/events"
	"go-config-runner/internal/job"
	"go-config-runner/internal/logger"
	"go-config-runner/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("monitor: triggered action not found")
	ErrInvalid  = errors.New("monitor: invalid triggered action")
)

// Controller is the command surface of the jobs. job.Manager implements it.
type Controller interface {
	Snapshot(id string) (job.Snapshot, error)
	Start(ctx context.Context, id string) error
	Pause(id string) error
	Resume(id string) error
	Abort(id string, graceful bool) error
	SetConcurrency(ctx context.Context, id string, n int) error
	ReloadProxies(ctx context.Context, id string) (int, error)
}

type Store interface {
	ListTriggeredActions(ctx context.Context) ([]models.TriggeredAction, error)
	SaveTriggeredAction(ctx context.Context, ta *models.TriggeredAction) error
	DeleteTriggeredAction(ctx context.Context, id string) error
}

type Options struct {
	Interval time.Duration
	Notifier notify.Notifier
	Store    Store
	Events   events.Publisher
}

type rule struct {
	def     TriggeredAction
	created time.Time
	// runs is the job's completed run count at the previous tick.
	runs     int64
	observed bool
}

type Monitor struct {
	jobs     Controller
	interval time.Duration
	notifier notify.Notifier
	store    Store
	events   events.Publisher
	log      zerolog.Logger

	mu      sync.Mutex
	rules   map[string]*rule
	actions sync.WaitGroup
}

func New(jobs Controller, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Monitor{
		jobs:     jobs,
		interval: opts.Interval,
		notifier: opts.Notifier,
		store:    opts.Store,
		events:   opts.Events,
		log:      logger.WithComponent("monitor"),
		rules:    make(map[string]*rule),
	}
}

// Load replaces the rules with the persisted ones. Fired flags start cleared.
func (m *Monitor) Load(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	rows, err := m.store.ListTriggeredActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load triggered actions: %w", err)
	}

	rules := make(map[string]*rule, len(rows))
	for _, row := range rows {
		var ta TriggeredAction
		if err := json.Unmarshal(row.Definition, &ta); err != nil {
			m.log.Error().Err(err).Str("rule_id", row.ID).Msg("Failed to decode triggered action")
			continue
		}
		ta.ID, ta.Name, ta.JobID, ta.Enabled = row.ID, row.Name, row.JobID, row.Enabled
		ta.HasFired, ta.Executing = false, false
		rules[ta.ID] = &rule{def: ta, created: row.CreatedAt}
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()

	m.log.Info().Int("count", len(rules)).Msg("Triggered actions loaded")
	return len(rules), nil
}

// Run ticks until ctx is done, then waits for running action sequences.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("Monitor started")

	for {
		select {
		case <-ctx.Done():
			m.actions.Wait()
			m.log.Info().Msg("Monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled rule once and starts the action sequences of
// those that fire. It does not wait for the actions.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	var due []TriggeredAction
	for _, r := range m.sortedLocked() {
		if !r.def.Enabled {
			continue
		}
		snap, err := m.jobs.Snapshot(r.def.JobID)
		if err != nil {
			m.log.Debug().Err(err).Str("rule_id", r.def.ID).Msg("Target job unavailable")
			continue
		}

		finished := r.observed && snap.Runs > r.runs
		r.runs, r.observed = snap.Runs, true

		if !r.def.satisfied(snap, finished) {
			continue
		}
		if r.def.Executing || (r.def.HasFired && !r.def.Repeatable) {
			continue
		}
		r.def.HasFired = true
		r.def.Executing = true
		due = append(due, r.def)
	}
	m.mu.Unlock()

	for _, ta := range due {
		m.log.Info().Str("rule_id", ta.ID).Str("name", ta.Name).Str("job_id", ta.JobID).Msg("Triggered action fired")
		m.actions.Add(1)
		go m.execute(ctx, ta)
	}
}

// Wait blocks until no action sequence is running.
func (m *Monitor) Wait() {
	m.actions.Wait()
}

func (ta *TriggeredAction) satisfied(s job.Snapshot, finished bool) bool {
	anyOf := ta.Mode == ModeAny
	for _, t := range ta.Triggers {
		ok := t.holds(s, finished)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}

func (t Trigger) holds(s job.Snapshot, finished bool) bool {
	switch t.Kind {
	case TriggerMetric:
		v, ok := metricValue(s, t.Metric)
		if !ok {
			return false
		}
		held, _ := t.Compare.holds(v, t.Value)
		return held
	case TriggerElapsed:
		held, _ := t.Compare.holds(s.ElapsedSeconds, t.Value)
		return held
	case TriggerStatus:
		return s.Status == t.Status
	case TriggerFinished:
		return finished
	}
	return false
}

func (m *Monitor) execute(ctx context.Context, ta TriggeredAction) {
	defer m.actions.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("rule_id", ta.ID).Msg("Action sequence panicked")
		}
		m.mu.Lock()
		if r, ok := m.rules[ta.ID]; ok {
			r.def.Executing = false
		}
		m.mu.Unlock()
	}()

	for i, a := range ta.Actions {
		err := m.perform(ctx, ta, a)

		data := map[string]any{"rule_id": ta.ID, "rule": ta.Name, "action": a.Kind, "index": i}
		if err != nil {
			data["error"] = err.Error()
			m.log.Warn().Err(err).Str("rule_id", ta.ID).Str("action", string(a.Kind)).Msg("Action failed")
		}
		m.events.Publish(events.Event{Type: events.ActionFired, JobID: ta.JobID, Data: data})

		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Monitor) perform(ctx context.Context, ta TriggeredAction, a Action) error {
	target := a.JobID
	if target == "" {
		target = ta.JobID
	}

	switch a.Kind {
	case ActionWait:
		t := time.NewTimer(time.Duration(a.Seconds * float64(time.Second)))
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case ActionSetBots:
		return m.jobs.SetConcurrency(ctx, target, a.Bots)
	case ActionStartJob:
		return m.jobs.Start(ctx, target)
	case ActionPauseJob:
		return m.jobs.Pause(target)
	case ActionResumeJob:
		return m.jobs.Resume(target)
	case ActionStopJob:
		return m.jobs.Abort(target, true)
	case ActionAbortJob:
		return m.jobs.Abort(target, false)
	case ActionReloadProxies:
		_, err := m.jobs.ReloadProxies(ctx, target)
		return err
	case ActionNotify:
		snap, err := m.jobs.Snapshot(target)
		if err != nil {
			return err
		}
		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return m.notifier.Send(sendCtx, notify.Notification{
			Title:   ta.Name,
			Message: render(a.Message, snap),
			JobID:   target,
			Time:    time.Now().UTC(),
			Data: map[string]any{
				"status": snap.Status,
				"tested": snap.Tested,
				"hits":   snap.Hits,
			},
		})
	}
	return fmt.Errorf("unknown action kind %q", a.Kind)
}

func render(tmpl string, s job.Snapshot) string {
	return strings.NewReplacer(
		"{job}", s.Name,
		"{status}", string(s.Status),
		"{hits}", strconv.FormatInt(s.Hits, 10),
		"{tested}", strconv.FormatInt(s.Tested, 10),
	).Replace(tmpl)
}

// Create validates and stores a new rule. An empty ID is filled in.
func (m *Monitor) Create(ctx context.Context, ta TriggeredAction) (TriggeredAction, error) {
	if ta.ID == "" {
		ta.ID = uuid.NewString()
	}
	if ta.Mode == "" {
		ta.Mode = ModeAll
	}
	if err := ta.Validate(); err != nil {
		return TriggeredAction{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ta.HasFired, ta.Executing = false, false

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[ta.ID]; ok {
		return TriggeredAction{}, fmt.Errorf("triggered action %s already exists", ta.ID)
	}
	now := time.Now().UTC()
	if err := m.saveLocked(ctx, ta, now); err != nil {
		return TriggeredAction{}, err
	}
	m.rules[ta.ID] = &rule{def: ta, created: now}
	return ta, nil
}

// Update replaces a rule's definition. The fired flag is cleared.
func (m *Monitor) Update(ctx context.Context, ta TriggeredAction) (TriggeredAction, error) {
	if ta.Mode == "" {
		ta.Mode = ModeAll
	}
	if err := ta.Validate(); err != nil {
		return TriggeredAction{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[ta.ID]
	if !ok {
		return TriggeredAction{}, fmt.Errorf("%w: %s", ErrNotFound, ta.ID)
	}
	ta.HasFired = false
	ta.Executing = r.def.Executing
	if err := m.saveLocked(ctx, ta, r.created); err != nil {
		return TriggeredAction{}, err
	}
	r.def = ta
	r.observed = false
	return ta, nil
}

func (m *Monitor) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.store != nil {
		if err := m.store.DeleteTriggeredAction(ctx, id); err != nil {
			return fmt.Errorf("failed to delete triggered action: %w", err)
		}
	}
	delete(m.rules, id)
	return nil
}

func (m *Monitor) Get(id string) (TriggeredAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return TriggeredAction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.def, nil
}

func (m *Monitor) List() []TriggeredAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := m.sortedLocked()
	out := make([]TriggeredAction, len(rules))
	for i, r := range rules {
		out[i] = r.def
	}
	return out
}

func (m *Monitor) Enable(ctx context.Context, id string) error {
	return m.setEnabled(ctx, id, true)
}

func (m *Monitor) Disable(ctx context.Context, id string) error {
	return m.setEnabled(ctx, id, false)
}

func (m *Monitor) setEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	def := r.def
	def.Enabled = enabled
	if err := m.saveLocked(ctx, def, r.created); err != nil {
		return err
	}
	r.def.Enabled = enabled
	return nil
}

// ResetFired lets a non-repeatable rule fire again.
func (m *Monitor) ResetFired(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.def.HasFired = false
	return nil
}

func (m *Monitor) saveLocked(ctx context.Context, ta TriggeredAction, created time.Time) error {
	if m.store == nil {
		return nil
	}
	ta.HasFired, ta.Executing = false, false
	raw, err := json.Marshal(ta)
	if err != nil {
		return fmt.Errorf("failed to encode triggered action: %w", err)
	}
	err = m.store.SaveTriggeredAction(ctx, &models.TriggeredAction{
		ID:         ta.ID,
		Name:       ta.Name,
		JobID:      ta.JobID,
		Enabled:    ta.Enabled,
		Definition: raw,
		CreatedAt:  created,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save triggered action: %w", err)
	}
	return nil
}

func (m *Monitor) sortedLocked() []*rule {
	rules := make([]*rule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(a, b int) bool {
		if rules[a].created.Equal(rules[b].created) {
			return rules[a].def.ID < rules[b].def.ID
		}
		return rules[a].created.Before(rules[b].created)
	})
	return rules
}
