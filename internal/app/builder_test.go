package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go-config-runner/internal/app"
	"go-config-runner/internal/classify"
	"go-config-runner/internal/database/models"
	"go-config-runner/internal/datapool"
	"go-config-runner/internal/job"
	"go-config-runner/internal/proxypool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hitStore struct {
	mu   sync.Mutex
	hits []models.Hit
}

func (s *hitStore) SaveHit(ctx context.Context, h *models.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = append(s.hits, *h)
	return nil
}

func drain(t *testing.T, p datapool.Pool) []string {
	t.Helper()
	var out []string
	for {
		line, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, line.Value)
	}
}

func TestDataFactory(t *testing.T) {
	wordlist := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(wordlist, []byte("a:1\n\nb:2\nc:3\n"), 0o644))

	tests := []struct {
		name string
		spec job.DataSpec
		want []string
	}{
		{"lines", job.DataSpec{Type: job.DataLines, Lines: []string{"x", "y"}}, []string{"x", "y"}},
		{"file", job.DataSpec{Type: job.DataFile, Path: wordlist}, []string{"a:1", "b:2", "c:3"}},
		{"file with regex", job.DataSpec{Type: job.DataFile, Path: wordlist, Regex: `^[ab]:`}, []string{"a:1", "b:2"}},
		{"range", job.DataSpec{Type: job.DataRange, Start: 10, Step: 5, Count: 3}, []string{"10", "15", "20"}},
		{"combinations", job.DataSpec{Type: job.DataCombinations, Charset: "ab", Length: 2}, []string{"aa", "ab", "ba", "bb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := app.DataFactory(tt.spec)
			require.NoError(t, err)

			pool, err := factory()
			require.NoError(t, err)
			assert.Equal(t, tt.want, drain(t, pool))

			// a second run starts over
			again, err := factory()
			require.NoError(t, err)
			assert.Equal(t, tt.want, drain(t, again))
		})
	}
}

func TestDataFactoryResumes(t *testing.T) {
	factory, err := app.DataFactory(job.DataSpec{Type: job.DataRange, Count: 5})
	require.NoError(t, err)
	pool, err := factory(datapool.WithStartAt(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, drain(t, pool))
}

func TestDataFactoryInfinite(t *testing.T) {
	factory, err := app.DataFactory(job.DataSpec{Type: job.DataInfinite})
	require.NoError(t, err)
	pool, err := factory()
	require.NoError(t, err)
	assert.Equal(t, datapool.Unknown, pool.Size())
}

func TestDataFactoryErrors(t *testing.T) {
	_, err := app.DataFactory(job.DataSpec{Type: "tape"})
	require.ErrorIs(t, err, datapool.ErrNoSource)

	_, err = app.DataFactory(job.DataSpec{Type: job.DataLines, Regex: "("})
	require.Error(t, err)

	factory, err := app.DataFactory(job.DataSpec{Type: job.DataFile, Path: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err, "files are opened per run")
	_, err = factory()
	require.Error(t, err)
}

func TestProxySource(t *testing.T) {
	src, err := app.ProxySource(&job.ProxySpec{
		Source: job.ProxyLines,
		Type:   "socks5",
		Lines:  []string{"1.1.1.1:1080", "bad line", "(http)2.2.2.2:80"},
	}, nil)
	require.NoError(t, err)
	proxies, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	assert.Equal(t, proxypool.SOCKS5, proxies[0].Type)
	assert.Equal(t, proxypool.HTTP, proxies[1].Type)

	_, err = app.ProxySource(&job.ProxySpec{Source: job.ProxyLines, Lines: []string{"nope"}}, nil)
	require.ErrorIs(t, err, job.ErrNoProxySrc)

	_, err = app.ProxySource(&job.ProxySpec{Source: job.ProxyGroup, Group: "g"}, nil)
	require.Error(t, err)

	_, err = app.ProxySource(&job.ProxySpec{Source: job.ProxyFile, Path: "p.txt", Type: "gopher"}, nil)
	require.Error(t, err)

	src, err = app.ProxySource(&job.ProxySpec{Source: job.ProxyURL, URL: "http://127.0.0.1:1/list"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, src.Name())
}

func TestProxySourceMergesAlso(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("3.3.3.3:8080\n1.1.1.1:1080\n"), 0o644))

	src, err := app.ProxySource(&job.ProxySpec{
		Source: job.ProxyLines,
		Lines:  []string{"1.1.1.1:1080", "2.2.2.2:1080"},
		Also:   []job.ProxySpec{{Source: job.ProxyFile, Path: path}},
	}, nil)
	require.NoError(t, err)

	proxies, err := src.Load(context.Background())
	require.NoError(t, err)
	addrs := make([]string, 0, len(proxies))
	for _, p := range proxies {
		addrs = append(addrs, p.Address())
	}
	assert.ElementsMatch(t, []string{"1.1.1.1:1080", "2.2.2.2:1080", "3.3.3.3:8080"}, addrs)

	_, err = app.ProxySource(&job.ProxySpec{
		Source: job.ProxyLines,
		Lines:  []string{"1.1.1.1:1080"},
		Also:   []job.ProxySpec{{Source: job.ProxyGroup, Group: "g"}},
	}, nil)
	require.Error(t, err)
}

const siteConfig = `
[request]
method = POST
url = %s/login
body = user=<USER>&pass=<PASS>
timeout = 5

[keys]
success = welcome
fail = invalid
custom.LOCKED = locked

[capture]
plan = plan=(\w+)
`

func TestBuildMultiRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.PostForm.Get("user") {
		case "admin":
			fmt.Fprint(w, "welcome plan=gold")
		case "root":
			fmt.Fprint(w, "account locked")
		default:
			fmt.Fprint(w, "invalid password")
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.ini"), []byte(fmt.Sprintf(siteConfig, srv.URL)), 0o644))

	hits := &hitStore{}
	b := &app.Builder{
		Configs:         classify.NewConfigStore(dir),
		Hits:            hits,
		MetricsInterval: 10 * time.Millisecond,
		MaxBots:         10,
	}

	j, err := b.Build(job.Definition{
		ID: "j1", Name: "site", Kind: job.MultiRun, Bots: 2, Config: "site",
		Data: job.DataSpec{Type: job.DataLines, Lines: []string{"admin:a", "bob:b", "root:r", "eve:e"}},
	})
	require.NoError(t, err)

	require.NoError(t, j.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, j.Wait(ctx))

	snap := j.Snapshot()
	assert.Equal(t, int64(4), snap.Tested)
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Custom("LOCKED"))
	assert.Equal(t, int64(2), snap.Fails)

	hits.mu.Lock()
	defer hits.mu.Unlock()
	require.Len(t, hits.hits, 2)
	for _, h := range hits.hits {
		if h.Input == "admin:a" {
			assert.Equal(t, "SUCCESS", h.Classification)
			assert.Equal(t, "gold", h.Captured["plan"])
		} else {
			assert.Equal(t, "root:r", h.Input)
			assert.Equal(t, "LOCKED", h.Classification)
		}
	}
}

func TestBuildRejects(t *testing.T) {
	b := &app.Builder{Configs: classify.NewConfigStore(t.TempDir()), MaxBots: 5}

	_, err := b.Build(job.Definition{ID: "j", Name: "n", Kind: job.MultiRun, Bots: 6, Config: "x",
		Data: job.DataSpec{Type: job.DataInfinite}})
	require.ErrorIs(t, err, job.ErrInvalidBots)

	_, err = b.Build(job.Definition{ID: "j", Name: "n", Kind: job.MultiRun, Bots: 1, Config: "missing",
		Data: job.DataSpec{Type: job.DataInfinite}})
	require.ErrorIs(t, err, classify.ErrConfigNotFound)

	_, err = (&app.Builder{}).Build(job.Definition{ID: "j", Name: "n", Kind: job.MultiRun, Bots: 1, Config: "x",
		Data: job.DataSpec{Type: job.DataInfinite}})
	require.Error(t, err)
}

func TestBuildProxyCheck(t *testing.T) {
	b := &app.Builder{ProxyWait: 2 * time.Second}
	j, err := b.Build(job.Definition{
		ID: "c1", Name: "check", Kind: job.ProxyCheck, Bots: 4,
		CheckTarget: "http://ip-api.com/json",
		Proxies:     &job.ProxySpec{Source: job.ProxyLines, Lines: []string{"1.2.3.4:8080"}},
	})
	require.NoError(t, err)
	assert.Equal(t, job.ProxyCheck, j.Kind())
	assert.Equal(t, 2*time.Second, j.Settings().ProxyWait)

	n, err := j.ReloadProxies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
