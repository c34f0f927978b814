// Package datapool supplies the ordered stream of input lines a job tests.
//
// Every pool hands out each line exactly once, no matter how many workers
// call Next concurrently. Exhaustion is reported through the boolean result
// and is not an error.
package datapool

import (
	"errors"
	"regexp"
	"sync"
)

// Unknown is returned by Size for unbounded pools.
const Unknown int64 = -1

var ErrNoSource = errors.New("datapool: no data source")

// Line is one input unit together with its position in the raw source.
type Line struct {
	Index int64
	Value string
}

type Pool interface {
	// Next returns the next line, or false once the pool is exhausted.
	Next() (Line, bool)
	// Size is the total number of raw lines, or Unknown.
	Size() int64
	// Position is the number of raw lines consumed so far, skipped ones included.
	Position() int64
	// Err reports a read failure that ended the pool early.
	Err() error
}

// Option tunes the cursor of a pool.
type Option func(*cursor)

// WithSkip drops lines for which pred returns true. The predicate is
// evaluated lazily, right before a line would be yielded.
func WithSkip(pred func(string) bool) Option {
	return func(c *cursor) {
		c.skip = append(c.skip, pred)
	}
}

// WithLineRegex keeps only lines that match re.
func WithLineRegex(re *regexp.Regexp) Option {
	return WithSkip(func(s string) bool { return !re.MatchString(s) })
}

// WithStartAt discards the first n raw lines, used to resume a job.
func WithStartAt(n int64) Option {
	return func(c *cursor) {
		if n > 0 {
			c.startAt = n
		}
	}
}

// generator produces raw lines; ok=false means the source is exhausted.
// It is only ever called with the cursor mutex held.
type generator func() (string, bool)

// cursor is the shared, mutex guarded read position every pool is built on.
type cursor struct {
	mu      sync.Mutex
	gen     generator
	pos     int64
	size    int64
	startAt int64
	skip    []func(string) bool
	done    bool
	err     error
}

func newCursor(gen generator, size int64, opts []Option) *cursor {
	c := &cursor{gen: gen, size: size}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *cursor) Next() (Line, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.done {
		value, ok := c.gen()
		if !ok {
			c.done = true
			break
		}
		idx := c.pos
		c.pos++

		if idx < c.startAt || c.skipped(value) {
			continue
		}
		return Line{Index: idx, Value: value}, true
	}
	return Line{}, false
}

func (c *cursor) skipped(value string) bool {
	for _, pred := range c.skip {
		if pred(value) {
			return true
		}
	}
	return false
}

func (c *cursor) Size() int64 {
	return c.size
}

func (c *cursor) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *cursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
