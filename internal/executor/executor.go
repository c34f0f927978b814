// Package executor runs one work item against a target. The job engine
// only depends on the Executor interface, the HTTP implementation is what
// runner configs compile to.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go-config-runner/internal/proxypool"
)

// Input is one data line handed to an executor.
type Input struct {
	Line    string
	Attempt int
}

// Credentials splits the line at the first ':' (or ';' when there is none).
func (in Input) Credentials() (user, pass string) {
	if u, p, ok := strings.Cut(in.Line, ":"); ok {
		return u, p
	}
	if u, p, ok := strings.Cut(in.Line, ";"); ok {
		return u, p
	}
	return in.Line, ""
}

// Result is what one execution observed. Signals are matched against the
// config's keyword lists; Captured holds the named values it extracted.
type Result struct {
	Captured map[string]string
	Signals  []string
}

// Executor runs one input, optionally through px. Implementations must return
// promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, in Input, px *proxypool.Proxy) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, in Input, px *proxypool.Proxy) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, in Input, px *proxypool.Proxy) (Result, error) {
	return f(ctx, in, px)
}

// NetworkError is a transport level failure: the target or the proxy could
// not be reached, or did not answer in time.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsNetworkError reports whether err is, or wraps, a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
