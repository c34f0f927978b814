package datapool_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go-config-runner/internal/datapool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(p datapool.Pool) []string {
	var out []string
	for {
		l, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, l.Value)
	}
}

func TestSlicePool(t *testing.T) {
	p := datapool.NewSlicePool([]string{"a:1", "b:2", "c:3"})

	require.Equal(t, int64(3), p.Size())
	require.Equal(t, []string{"a:1", "b:2", "c:3"}, drain(p))
	require.Equal(t, int64(3), p.Position())

	_, ok := p.Next()
	require.False(t, ok, "exhausted pool keeps reporting exhaustion")
}

func TestSkipAndStartAt(t *testing.T) {
	lines := []string{"user1:pass", "invalid", "user2:pass", "user3:pass", "nope"}
	re := regexp.MustCompile(`^[^:]+:.+$`)

	p := datapool.NewSlicePool(lines, datapool.WithLineRegex(re), datapool.WithStartAt(2))
	require.Equal(t, []string{"user2:pass", "user3:pass"}, drain(p))
	require.Equal(t, int64(5), p.Position())
}

func TestLineIndexesFollowRawPosition(t *testing.T) {
	p := datapool.NewSlicePool([]string{"x", "skip", "y"},
		datapool.WithSkip(func(s string) bool { return s == "skip" }))

	first, _ := p.Next()
	second, _ := p.Next()
	assert.Equal(t, int64(0), first.Index)
	assert.Equal(t, int64(2), second.Index)
}

func TestConcurrentNextIsUnique(t *testing.T) {
	const n = 20000
	lines := make([]string, n)
	for i := range lines {
		lines[i] = strconv.Itoa(i)
	}
	p := datapool.NewSlicePool(lines)

	var (
		mu   sync.Mutex
		seen = make(map[string]int, n)
		wg   sync.WaitGroup
	)
	for w := 0; w < 64; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				l, ok := p.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[l.Value]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for v, count := range seen {
		require.Equal(t, 1, count, "line %s delivered more than once", v)
	}
}

func TestFilePool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\r\n\ntwo\nthree\n"), 0o644))

	p, err := datapool.NewFilePool(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.Equal(t, int64(3), p.Size())
	require.Equal(t, []string{"one", "two", "three"}, drain(p))
	require.NoError(t, p.Err())
	require.NoError(t, p.Close())
}

func TestFilePoolReportsReadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("ok\n"), 0o644))

	p, err := datapool.NewFilePool(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	// Grows past the scanner limit after the pool was opened.
	long := strings.Repeat("x", 2*1024*1024)
	require.NoError(t, os.WriteFile(path, []byte("ok\n"+long+"\nlater\n"), 0o644))

	assert.Equal(t, []string{"ok"}, drain(p))
	require.Error(t, p.Err())
	assert.Contains(t, p.Err().Error(), "failed to read wordlist")
}

func TestFilePoolMissingFile(t *testing.T) {
	_, err := datapool.NewFilePool(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestRangePool(t *testing.T) {
	p, err := datapool.NewRangePool(10, 5, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"10", "15", "20", "25"}, drain(p))

	_, err = datapool.NewRangePool(0, 1, -1)
	require.Error(t, err)
}

func TestCombinationsPool(t *testing.T) {
	p, err := datapool.NewCombinationsPool("ab", 2)
	require.NoError(t, err)
	require.Equal(t, int64(4), p.Size())
	require.Equal(t, []string{"aa", "ab", "ba", "bb"}, drain(p))

	_, err = datapool.NewCombinationsPool("", 2)
	require.Error(t, err)
}

func TestInfinitePool(t *testing.T) {
	p := datapool.NewInfinitePool(datapool.WithSkip(func(s string) bool {
		return strings.HasSuffix(s, "5")
	}))
	require.Equal(t, datapool.Unknown, p.Size())

	var got []string
	for i := 0; i < 7; i++ {
		l, ok := p.Next()
		require.True(t, ok)
		got = append(got, l.Value)
	}
	require.Equal(t, []string{"0", "1", "2", "3", "4", "6", "7"}, got)
}
