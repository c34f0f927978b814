package datapool

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SlicePool serves an in-memory wordlist.
type SlicePool struct {
	*cursor
}

func NewSlicePool(lines []string, opts ...Option) *SlicePool {
	i := 0
	gen := func() (string, bool) {
		if i >= len(lines) {
			return "", false
		}
		s := lines[i]
		i++
		return s, true
	}
	return &SlicePool{cursor: newCursor(gen, int64(len(lines)), opts)}
}

// FilePool streams a wordlist file. Blank lines are not counted and never
// yielded, so Size matches what the pool will actually produce.
type FilePool struct {
	*cursor
	file *os.File
}

func NewFilePool(path string, opts ...Option) (*FilePool, error) {
	size, err := countLines(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wordlist: %w", err)
	}

	p := &FilePool{file: f}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	gen := func() (string, bool) {
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "" {
				continue
			}
			return line, true
		}
		if err := scanner.Err(); err != nil {
			p.err = fmt.Errorf("failed to read wordlist: %w", err)
		}
		_ = f.Close()
		return "", false
	}
	p.cursor = newCursor(gen, size, opts)
	return p, nil
}

// Close releases the file handle; safe to call after exhaustion.
func (p *FilePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	if err := p.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open wordlist: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimRight(scanner.Text(), "\r") != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read wordlist: %w", err)
	}
	return n, nil
}

// RangePool yields count numbers starting at start, separated by step.
type RangePool struct {
	*cursor
}

func NewRangePool(start, step, count int64, opts ...Option) (*RangePool, error) {
	if count < 0 {
		return nil, fmt.Errorf("range count must not be negative")
	}
	if step == 0 {
		step = 1
	}
	var i int64
	gen := func() (string, bool) {
		if i >= count {
			return "", false
		}
		v := start + i*step
		i++
		return strconv.FormatInt(v, 10), true
	}
	return &RangePool{cursor: newCursor(gen, count, opts)}, nil
}

// CombinationsPool yields every string of the given length over charset,
// in lexicographic order of the charset.
type CombinationsPool struct {
	*cursor
}

func NewCombinationsPool(charset string, length int, opts ...Option) (*CombinationsPool, error) {
	chars := []rune(charset)
	if len(chars) == 0 {
		return nil, fmt.Errorf("charset must not be empty")
	}
	if length <= 0 {
		return nil, fmt.Errorf("length must be positive")
	}

	size := int64(1)
	for i := 0; i < length; i++ {
		if size > (1<<62)/int64(len(chars)) {
			return nil, fmt.Errorf("too many combinations for charset of %d and length %d", len(chars), length)
		}
		size *= int64(len(chars))
	}

	digits := make([]int, length)
	exhausted := false
	gen := func() (string, bool) {
		if exhausted {
			return "", false
		}
		buf := make([]rune, length)
		for i, d := range digits {
			buf[i] = chars[d]
		}
		// odometer increment, rightmost digit first
		for i := length - 1; i >= 0; i-- {
			digits[i]++
			if digits[i] < len(chars) {
				break
			}
			digits[i] = 0
			if i == 0 {
				exhausted = true
			}
		}
		return string(buf), true
	}
	return &CombinationsPool{cursor: newCursor(gen, size, opts)}, nil
}

// InfinitePool never runs out. Each line is the decimal index, which lets
// configs that only need a counter run against it.
// A skip option that rejects every line keeps Next from ever returning.
type InfinitePool struct {
	*cursor
}

func NewInfinitePool(opts ...Option) *InfinitePool {
	var i int64
	gen := func() (string, bool) {
		s := strconv.FormatInt(i, 10)
		i++
		return s, true
	}
	return &InfinitePool{cursor: newCursor(gen, Unknown, opts)}
}
