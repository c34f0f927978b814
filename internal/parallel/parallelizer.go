// Package parallel runs a work function over a stream of items with a
// concurrency limit that can change while the run is in progress.
//
// A single dispatcher goroutine pulls items and starts one goroutine per
// in-flight item. The dispatcher is the only goroutine that reports status
// changes and completion, so handlers observe them in order.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	ErrDispatcherCrashed  = errors.New("parallel: dispatcher crashed")
	ErrAlreadyStarted     = errors.New("parallel: already started")
	ErrNotRunning         = errors.New("parallel: not running")
	ErrInvalidConcurrency = errors.New("parallel: concurrency must be at least 1")
)

type Status int

const (
	Idle Status = iota
	Running
	Pausing
	Paused
	Stopping
	Aborting
	Completed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Pausing:
		return "pausing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Aborting:
		return "aborting"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Source yields items in order; ok=false means it is exhausted. Next is only
// ever called from the dispatcher goroutine and without the parallelizer
// lock, so a slow source delays dispatch but not Pause or Progress. The run
// cannot complete until Next returns.
type Source[T any] interface {
	Next() (item T, ok bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func() (T, bool)

func (f SourceFunc[T]) Next() (T, bool) { return f() }

// FromSlice yields the elements of items in order.
func FromSlice[T any](items []T) Source[T] {
	i := 0
	return SourceFunc[T](func() (T, bool) {
		if i >= len(items) {
			var zero T
			return zero, false
		}
		i++
		return items[i-1], true
	})
}

// WorkFunc processes one item. ctx is cancelled on a hard abort.
type WorkFunc[T, R any] func(ctx context.Context, item T) (R, error)

// PanicError is reported to OnItemFailed when a work function panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work function panicked: %v", e.Value)
}

type Progress struct {
	Dispatched int64 `json:"dispatched"`
	Finished   int64 `json:"finished"`
	Active     int   `json:"active"`
	Limit      int   `json:"limit"`
	Queued     int   `json:"queued"`
}

// Handlers receive the results of a run. Item and progress handlers are
// called from worker goroutines and must be safe for concurrent use. All of
// them return before OnCompleted is called.
type Handlers[T, R any] struct {
	OnItemCompleted func(item T, result R)
	OnItemFailed    func(item T, err error)
	OnProgress      func(Progress)
	OnStatusChanged func(Status)
	// OnCompleted is called exactly once per run. err is non-nil only when
	// the dispatcher itself failed.
	OnCompleted func(err error)
}

type Parallelizer[T, R any] struct {
	work     WorkFunc[T, R]
	handlers Handlers[T, R]

	mu          sync.Mutex
	status      Status
	limit       int
	active      int
	dispatched  int64
	finished    int64
	source      Source[T]
	requeued    []T
	exhausted   bool
	transitions []Status
	statusCh    chan struct{}

	wake       chan struct{}
	cancel     context.CancelFunc
	stopWatch  func() bool
	done       chan struct{}
	finishOnce sync.Once
	err        error
}

func New[T, R any](work WorkFunc[T, R], handlers Handlers[T, R]) *Parallelizer[T, R] {
	return &Parallelizer[T, R]{
		work:     work,
		handlers: handlers,
		limit:    1,
		statusCh: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start begins dispatching from src and returns immediately. Cancelling ctx
// has the same effect as a hard abort. A Parallelizer runs once.
func (p *Parallelizer[T, R]) Start(ctx context.Context, src Source[T], concurrency int) error {
	if concurrency < 1 {
		return ErrInvalidConcurrency
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Idle {
		return ErrAlreadyStarted
	}

	workCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.source = src
	p.limit = concurrency
	p.setStatusLocked(Running)
	p.stopWatch = context.AfterFunc(ctx, func() { _ = p.Abort(false) })

	go p.loop(workCtx)
	return nil
}

// Pause stops dispatching new items. The status becomes Paused once every
// in-flight item has finished.
func (p *Parallelizer[T, R]) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Running {
		return fmt.Errorf("%w: cannot pause while %s", ErrNotRunning, p.status)
	}
	p.setStatusLocked(Pausing)
	p.signal()
	return nil
}

// Resume continues dispatching after Pause.
func (p *Parallelizer[T, R]) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Paused && p.status != Pausing {
		return fmt.Errorf("%w: cannot resume while %s", ErrNotRunning, p.status)
	}
	p.setStatusLocked(Running)
	p.signal()
	return nil
}

// Abort stops the run permanently. A graceful abort lets in-flight items
// finish; a hard abort also cancels their context. Requeued items that were
// not dispatched yet are dropped either way.
func (p *Parallelizer[T, R]) Abort(graceful bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case Idle, Completed:
		return fmt.Errorf("%w: cannot abort while %s", ErrNotRunning, p.status)
	case Aborting:
		return nil
	case Stopping:
		if graceful {
			return nil
		}
	}

	if graceful {
		p.setStatusLocked(Stopping)
	} else {
		p.setStatusLocked(Aborting)
		p.cancel()
	}
	p.signal()
	return nil
}

// SetConcurrency changes the limit. Lowering it never interrupts in-flight
// items, the pool simply drains down to the new limit.
func (p *Parallelizer[T, R]) SetConcurrency(n int) error {
	if n < 1 {
		return ErrInvalidConcurrency
	}
	p.mu.Lock()
	p.limit = n
	p.mu.Unlock()
	p.signal()
	return nil
}

// Requeue schedules item to be dispatched again ahead of the source. It must
// be called from inside a running work function, which keeps the run from
// completing before the item is picked up.
func (p *Parallelizer[T, R]) Requeue(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case Idle, Completed, Stopping, Aborting:
		return fmt.Errorf("%w: cannot requeue while %s", ErrNotRunning, p.status)
	}
	p.requeued = append(p.requeued, item)
	return nil
}

func (p *Parallelizer[T, R]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Parallelizer[T, R]) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

// Done is closed after OnCompleted has returned.
func (p *Parallelizer[T, R]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the run completes and returns the dispatcher error, if any.
func (p *Parallelizer[T, R]) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitStatus blocks until the status is one of want.
func (p *Parallelizer[T, R]) AwaitStatus(ctx context.Context, want ...Status) (Status, error) {
	for {
		p.mu.Lock()
		cur, ch := p.status, p.statusCh
		p.mu.Unlock()

		for _, w := range want {
			if cur == w {
				return cur, nil
			}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

func (p *Parallelizer[T, R]) loop(ctx context.Context) {
	err := p.dispatch(ctx)
	if err != nil {
		p.mu.Lock()
		if p.status != Aborting {
			p.setStatusLocked(Aborting)
		}
		p.cancel()
		p.mu.Unlock()
		p.drain()
	}
	p.finish(err)
}

func (p *Parallelizer[T, R]) dispatch(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDispatcherCrashed, r)
		}
	}()

	for {
		transitions, finished := p.step(ctx)
		p.emit(transitions)
		if finished {
			return nil
		}
		<-p.wake
	}
}

// step starts as many items as the limit allows and advances the status.
// It reports whether the run is over.
func (p *Parallelizer[T, R]) step(ctx context.Context) ([]Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.status == Running && p.active < p.limit {
		item, ok := p.nextLocked()
		if !ok {
			break
		}
		p.active++
		p.dispatched++
		go p.run(ctx, item)
	}

	finished := false
	switch p.status {
	case Pausing:
		if p.active == 0 {
			p.setStatusLocked(Paused)
		}
	case Stopping, Aborting:
		finished = p.active == 0
	case Running:
		finished = p.active == 0 && p.exhausted && len(p.requeued) == 0
	}

	transitions := p.transitions
	p.transitions = nil
	return transitions, finished
}

// nextLocked pops a requeued item or reads the source. p.mu is released
// while the source is read.
func (p *Parallelizer[T, R]) nextLocked() (T, bool) {
	if len(p.requeued) > 0 {
		item := p.requeued[0]
		p.requeued = p.requeued[1:]
		return item, true
	}
	if p.exhausted {
		var zero T
		return zero, false
	}

	// Relocked by defer so a panicking source still leaves p.mu held for step.
	item, ok := func() (T, bool) {
		p.mu.Unlock()
		defer p.mu.Lock()
		return p.source.Next()
	}()

	if !ok {
		p.exhausted = true
		return item, false
	}
	// The run may have been paused or throttled while the source was read.
	if p.status != Running || p.active >= p.limit {
		p.requeued = append([]T{item}, p.requeued...)
		var zero T
		return zero, false
	}
	return item, true
}

func (p *Parallelizer[T, R]) run(ctx context.Context, item T) {
	result, err := p.invoke(ctx, item)
	if err != nil {
		if p.handlers.OnItemFailed != nil {
			p.handlers.OnItemFailed(item, err)
		}
	} else if p.handlers.OnItemCompleted != nil {
		p.handlers.OnItemCompleted(item, result)
	}

	p.mu.Lock()
	p.finished++
	progress := p.progressLocked()
	progress.Active--
	p.mu.Unlock()

	if p.handlers.OnProgress != nil {
		p.handlers.OnProgress(progress)
	}

	// The slot is released last so the run cannot complete before the
	// handlers above have returned.
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.signal()
}

func (p *Parallelizer[T, R]) invoke(ctx context.Context, item T) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.work(ctx, item)
}

// drain waits for in-flight items after a dispatcher crash.
func (p *Parallelizer[T, R]) drain() {
	for {
		p.mu.Lock()
		active := p.active
		transitions := p.transitions
		p.transitions = nil
		p.mu.Unlock()

		p.emit(transitions)
		if active == 0 {
			return
		}
		<-p.wake
	}
}

func (p *Parallelizer[T, R]) finish(err error) {
	p.finishOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.requeued = nil
		p.setStatusLocked(Completed)
		transitions := p.transitions
		p.transitions = nil
		p.mu.Unlock()

		p.stopWatch()
		p.cancel()
		p.emit(transitions)
		if p.handlers.OnCompleted != nil {
			p.handlers.OnCompleted(err)
		}
		close(p.done)
	})
}

func (p *Parallelizer[T, R]) emit(transitions []Status) {
	if p.handlers.OnStatusChanged == nil {
		return
	}
	for _, s := range transitions {
		p.handlers.OnStatusChanged(s)
	}
}

func (p *Parallelizer[T, R]) setStatusLocked(s Status) {
	if p.status == s {
		return
	}
	p.status = s
	p.transitions = append(p.transitions, s)
	close(p.statusCh)
	p.statusCh = make(chan struct{})
}

func (p *Parallelizer[T, R]) progressLocked() Progress {
	return Progress{
		Dispatched: p.dispatched,
		Finished:   p.finished,
		Active:     p.active,
		Limit:      p.limit,
		Queued:     len(p.requeued),
	}
}

func (p *Parallelizer[T, R]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
