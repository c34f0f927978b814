package proxypool

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrExhausted means no proxy can be handed out right now. It is a normal
	// condition, callers treat the item as a retry candidate.
	ErrExhausted = errors.New("proxypool: no proxy available")
	// ErrStaleProxy is returned for proxies borrowed before the last Reload.
	ErrStaleProxy = errors.New("proxypool: proxy belongs to a previous generation")
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBanned
	OutcomeNetworkFailure
	// OutcomeReleased checks a proxy back in without judging it, e.g. when
	// the attempt was cancelled.
	OutcomeReleased
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBanned:
		return "banned"
	case OutcomeNetworkFailure:
		return "network_failure"
	case OutcomeReleased:
		return "released"
	}
	return "unknown"
}

type Options struct {
	// MaxUsesPerProxy retires a proxy after that many borrows until the next
	// Reload. 0 means unlimited.
	MaxUsesPerProxy int
	// AllowDegraded lets Borrow fall back to banned or not working proxies
	// when no healthy one is free.
	AllowDegraded bool
	// AllowConcurrentUse lets several workers hold the same proxy.
	AllowConcurrentUse bool
	// MaxFailuresPerProxy marks a proxy NotWorking after that many consecutive
	// network failures. 0 means never.
	MaxFailuresPerProxy int
}

type entry struct {
	proxy    Proxy
	inUse    int
	failures int
	retired  bool
}

func (e *entry) healthy() bool {
	return e.proxy.Status != Banned && e.proxy.Status != NotWorking
}

// Pool arbitrates a set of proxies between concurrent workers.
type Pool struct {
	opts Options

	mu         sync.Mutex
	entries    []*entry
	byID       map[string]*entry
	generation uint64
	// notify is closed and replaced whenever a proxy may have become available.
	notify chan struct{}
}

func New(opts Options) *Pool {
	return &Pool{
		opts:   opts,
		byID:   make(map[string]*entry),
		notify: make(chan struct{}),
	}
}

func (p *Pool) Options() Options {
	return p.opts
}

// Reload replaces the working set. Usage counters start from zero and every
// proxy borrowed from the previous generation becomes stale.
func (p *Pool) Reload(proxies []Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.entries = make([]*entry, 0, len(proxies))
	p.byID = make(map[string]*entry, len(proxies))
	for _, px := range proxies {
		if px.ID == "" {
			px.ID = px.Address()
		}
		if _, dup := p.byID[px.ID]; dup {
			continue
		}
		if px.Status == "" {
			px.Status = Untested
		}
		px.TotalUses = 0
		px.LastUsedAt = time.Time{}
		px.Generation = p.generation
		e := &entry{proxy: px}
		p.entries = append(p.entries, e)
		p.byID[px.ID] = e
	}
	p.wakeLocked()
}

// Borrow checks out the least recently used eligible proxy without waiting.
func (p *Pool) Borrow() (*Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowLocked()
}

// Acquire is Borrow with a bounded wait for a checked out proxy to come back.
// It gives up immediately when no proxy of this generation can become
// available again.
func (p *Pool) Acquire(ctx context.Context, wait time.Duration) (*Proxy, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	for {
		p.mu.Lock()
		px, err := p.borrowLocked()
		if err == nil {
			p.mu.Unlock()
			return px, nil
		}
		ch := p.notify
		recoverable := p.recoverableLocked()
		p.mu.Unlock()

		if !recoverable || timeout == nil {
			return nil, ErrExhausted
		}

		select {
		case <-ch:
		case <-timeout:
			return nil, ErrExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Return checks a proxy back in and records the outcome of its use.
func (p *Pool) Return(px *Proxy, outcome Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if px == nil {
		return nil
	}
	e, ok := p.byID[px.ID]
	if !ok || px.Generation != p.generation {
		return ErrStaleProxy
	}

	if e.inUse > 0 {
		e.inUse--
	}

	switch outcome {
	case OutcomeSuccess:
		e.failures = 0
		if e.proxy.Status == Untested {
			e.proxy.Status = Working
		}
	case OutcomeBanned:
		e.proxy.Status = Banned
	case OutcomeNetworkFailure:
		e.failures++
		if p.opts.MaxFailuresPerProxy > 0 && e.failures >= p.opts.MaxFailuresPerProxy && e.proxy.Status != Banned {
			e.proxy.Status = NotWorking
		}
	}

	p.wakeLocked()
	return nil
}

// SetResult records the outcome of an explicit proxy check. Unlike Return it
// may move a proxy in any direction, since the check is authoritative.
func (p *Pool) SetResult(id string, status Status, latency time.Duration, country string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byID[id]
	if !ok {
		return false
	}
	e.proxy.Status = status
	e.proxy.Latency = latency
	if country != "" {
		e.proxy.Country = country
	}
	e.failures = 0
	p.wakeLocked()
	return true
}

type Snapshot struct {
	Total      int `json:"total"`
	Available  int `json:"available"`
	CheckedOut int `json:"checked_out"`
	Untested   int `json:"untested"`
	Working    int `json:"working"`
	Banned     int `json:"banned"`
	NotWorking int `json:"not_working"`
	Retired    int `json:"retired"`
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{Total: len(p.entries)}
	for _, e := range p.entries {
		switch e.proxy.Status {
		case Untested:
			s.Untested++
		case Working:
			s.Working++
		case Banned:
			s.Banned++
		case NotWorking:
			s.NotWorking++
		}
		if e.retired {
			s.Retired++
		}
		if e.inUse > 0 {
			s.CheckedOut++
		}
		if p.eligibleLocked(e) && e.healthy() {
			s.Available++
		}
	}
	return s
}

// List returns copies of every proxy in the current generation.
func (p *Pool) List() []Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Proxy, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.proxy)
	}
	return out
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) borrowLocked() (*Proxy, error) {
	e := p.pickLocked(true)
	if e == nil && p.opts.AllowDegraded {
		e = p.pickLocked(false)
	}
	if e == nil {
		return nil, ErrExhausted
	}

	e.inUse++
	e.proxy.TotalUses++
	e.proxy.LastUsedAt = time.Now()
	if p.opts.MaxUsesPerProxy > 0 && e.proxy.TotalUses >= p.opts.MaxUsesPerProxy {
		e.retired = true
	}

	cp := e.proxy
	return &cp, nil
}

// pickLocked returns the least recently used eligible entry whose health
// matches wantHealthy.
func (p *Pool) pickLocked(wantHealthy bool) *entry {
	var best *entry
	for _, e := range p.entries {
		if !p.eligibleLocked(e) || e.healthy() != wantHealthy {
			continue
		}
		if best == nil || e.proxy.LastUsedAt.Before(best.proxy.LastUsedAt) {
			best = e
		}
	}
	return best
}

func (p *Pool) eligibleLocked(e *entry) bool {
	if e.retired {
		return false
	}
	return e.inUse == 0 || p.opts.AllowConcurrentUse
}

// recoverableLocked reports whether waiting can help: some checked out proxy
// would be eligible again once returned.
func (p *Pool) recoverableLocked() bool {
	for _, e := range p.entries {
		if e.retired || e.inUse == 0 {
			continue
		}
		if e.healthy() || p.opts.AllowDegraded {
			return true
		}
	}
	return false
}

func (p *Pool) wakeLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}
