package job

import (
	"errors"
	"fmt"
)

type State string

const (
	Idle     State = "idle"
	Starting State = "starting"
	Running  State = "running"
	Pausing  State = "pausing"
	Paused   State = "paused"
	Resuming State = "resuming"
	Stopping State = "stopping"
	Aborting State = "aborting"
)

// Transient states only last while a command or a run shutdown is in
// progress. Commands issued in them are rejected.
func (s State) Transient() bool {
	switch s {
	case Starting, Resuming, Stopping, Aborting:
		return true
	}
	return false
}

var (
	ErrInvalidState = errors.New("job: command not allowed in current state")
	ErrNotFound     = errors.New("job: not found")
	ErrNoProxies    = errors.New("job: no usable proxies")
	ErrNoData       = errors.New("job: no data source")
	ErrInvalidBots  = errors.New("job: invalid bot count")
	ErrNoProxySrc   = errors.New("job: no proxy source configured")
	ErrInvalid      = errors.New("job: invalid definition")
)

// StateError rejects a command and names the state the job was in.
type StateError struct {
	Op      string
	Current State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s job while %s", e.Op, e.Current)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
