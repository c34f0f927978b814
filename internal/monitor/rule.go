package monitor

import (
	"errors"
	"fmt"
	"strings"

	"go-config-runner/internal/job"
)

type TriggerKind string

const (
	TriggerMetric   TriggerKind = "metric"
	TriggerStatus   TriggerKind = "status"
	TriggerElapsed  TriggerKind = "elapsed"
	TriggerFinished TriggerKind = "finished"
)

type Comparison string

const (
	Less         Comparison = "<"
	LessEqual    Comparison = "<="
	Equal        Comparison = "=="
	NotEqual     Comparison = "!="
	GreaterEqual Comparison = ">="
	Greater      Comparison = ">"
)

func (c Comparison) holds(left, right float64) (bool, error) {
	switch c {
	case Less:
		return left < right, nil
	case LessEqual:
		return left <= right, nil
	case Equal:
		return left == right, nil
	case NotEqual:
		return left != right, nil
	case GreaterEqual:
		return left >= right, nil
	case Greater:
		return left > right, nil
	}
	return false, fmt.Errorf("unknown comparison %q", c)
}

// Trigger is a predicate over the target job's snapshot.
type Trigger struct {
	Kind    TriggerKind `json:"kind"`
	Metric  string      `json:"metric,omitempty"`
	Compare Comparison  `json:"compare,omitempty"`
	Value   float64     `json:"value,omitempty"`
	Status  job.State   `json:"status,omitempty"`
}

func (t Trigger) validate() error {
	switch t.Kind {
	case TriggerMetric:
		if _, ok := metricValue(job.Snapshot{}, t.Metric); !ok && !isOptionalMetric(t.Metric) {
			return fmt.Errorf("unknown metric %q", t.Metric)
		}
		_, err := t.Compare.holds(0, 0)
		return err
	case TriggerElapsed:
		_, err := t.Compare.holds(0, 0)
		return err
	case TriggerStatus:
		if t.Status == "" {
			return errors.New("status trigger needs a status")
		}
	case TriggerFinished:
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

func isOptionalMetric(name string) bool {
	return name == "progress" || name == "remaining_seconds"
}

// metricValue reads a named metric. ok is false for unknown names and for
// estimates the job cannot make.
func metricValue(s job.Snapshot, name string) (float64, bool) {
	if custom, ok := strings.CutPrefix(name, "custom:"); ok && custom != "" {
		return float64(s.Custom(custom)), true
	}
	switch name {
	case "tested":
		return float64(s.Tested), true
	case "hits":
		return float64(s.Hits), true
	case "fails":
		return float64(s.Fails), true
	case "bans":
		return float64(s.Bans), true
	case "retries":
		return float64(s.Retries), true
	case "errors":
		return float64(s.Errors), true
	case "alive_proxies":
		return float64(s.AliveProxies), true
	case "banned_proxies":
		return float64(s.BannedProxies), true
	case "cpm":
		return s.CPM, true
	case "elapsed_seconds":
		return s.ElapsedSeconds, true
	case "active_bots":
		return float64(s.ActiveBots), true
	case "bots":
		return float64(s.Bots), true
	case "position":
		return float64(s.Position), true
	case "progress":
		if s.Progress == nil {
			return 0, false
		}
		return *s.Progress, true
	case "remaining_seconds":
		if s.RemainingSeconds == nil {
			return 0, false
		}
		return *s.RemainingSeconds, true
	}
	return 0, false
}

type ActionKind string

const (
	ActionWait          ActionKind = "wait"
	ActionSetBots       ActionKind = "set_bots"
	ActionStartJob      ActionKind = "start_job"
	ActionPauseJob      ActionKind = "pause_job"
	ActionResumeJob     ActionKind = "resume_job"
	ActionStopJob       ActionKind = "stop_job"
	ActionAbortJob      ActionKind = "abort_job"
	ActionReloadProxies ActionKind = "reload_proxies"
	ActionNotify        ActionKind = "notify"
)

// Action is one command. JobID defaults to the rule's job.
type Action struct {
	Kind    ActionKind `json:"kind"`
	JobID   string     `json:"job_id,omitempty"`
	Seconds float64    `json:"seconds,omitempty"`
	Bots    int        `json:"bots,omitempty"`
	Message string     `json:"message,omitempty"`
}

func (a Action) validate() error {
	switch a.Kind {
	case ActionWait:
		if a.Seconds < 0 {
			return errors.New("wait needs a non-negative duration")
		}
	case ActionSetBots:
		if a.Bots < 1 {
			return job.ErrInvalidBots
		}
	case ActionNotify:
		if a.Message == "" {
			return errors.New("notify needs a message")
		}
	case ActionStartJob, ActionPauseJob, ActionResumeJob, ActionStopJob, ActionAbortJob, ActionReloadProxies:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

// TriggeredAction runs its actions when its triggers hold for its job.
// HasFired and Executing are runtime state and are not persisted.
type TriggeredAction struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	JobID      string    `json:"job_id"`
	Enabled    bool      `json:"enabled"`
	Repeatable bool      `json:"repeatable"`
	Mode       Mode      `json:"mode"`
	Triggers   []Trigger `json:"triggers"`
	Actions    []Action  `json:"actions"`

	HasFired  bool `json:"has_fired"`
	Executing bool `json:"executing"`
}

func (ta *TriggeredAction) Validate() error {
	var errs []error
	if ta.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if ta.JobID == "" {
		errs = append(errs, errors.New("job_id is required"))
	}
	switch ta.Mode {
	case "", ModeAll, ModeAny:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", ta.Mode))
	}
	if len(ta.Triggers) == 0 {
		errs = append(errs, errors.New("at least one trigger is required"))
	}
	if len(ta.Actions) == 0 {
		errs = append(errs, errors.New("at least one action is required"))
	}
	for i, t := range ta.Triggers {
		if err := t.validate(); err != nil {
			errs = append(errs, fmt.Errorf("trigger %d: %w", i, err))
		}
	}
	for i, a := range ta.Actions {
		if err := a.validate(); err != nil {
			errs = append(errs, fmt.Errorf("action %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
