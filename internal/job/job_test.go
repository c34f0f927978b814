package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/database/models"
	"go-config-runner/internal/datapool"
	"go-config-runner/internal/executor"
	"go-config-runner/internal/job"
	"go-config-runner/internal/proxypool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func lines(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d:pass%d", i, i)
	}
	return out
}

func slices(data []string) job.DataFactory {
	return func(opts ...datapool.Option) (datapool.Pool, error) {
		return datapool.NewSlicePool(data, opts...), nil
	}
}

func keywords() classify.Classifier {
	return classify.NewKeywordClassifier(classify.Keys{
		Success: []string{"SUCCESS"},
		Fail:    []string{"INVALID"},
		Ban:     []string{"BANNED"},
		Retry:   []string{"RETRY"},
		Error:   []string{"OOPS"},
		Custom:  []classify.CustomKeys{{Name: "2FA", Keywords: []string{"2FA"}}},
		NoMatch: classify.FailResult,
	})
}

func always(signal string) executor.Executor {
	return executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
		return executor.Result{Signals: []string{signal}}, nil
	})
}

func blocking(release <-chan struct{}) executor.Executor {
	return executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
		<-release
		return executor.Result{Signals: []string{"SUCCESS"}}, nil
	})
}

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

func (s *hitStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newJob(t *testing.T, settings job.Settings, deps job.Deps) *job.Job {
	t.Helper()
	if deps.Classifier == nil {
		deps.Classifier = keywords()
	}
	j, err := job.New("job-1", "test", job.MultiRun, settings, deps)
	require.NoError(t, err)
	return j
}

func run(t *testing.T, j *job.Job) job.Snapshot {
	t.Helper()
	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.Wait(waitCtx(t)))
	return j.Snapshot()
}

func TestEveryLineBecomesAHit(t *testing.T) {
	hits := &hitStore{}
	j := newJob(t, job.Settings{Bots: 10}, job.Deps{
		Data:     slices(lines(100)),
		Executor: always("SUCCESS"),
		Hits:     hits,
	})

	snap := run(t, j)

	assert.Equal(t, job.Idle, snap.Status)
	assert.Equal(t, int64(100), snap.Tested)
	assert.Equal(t, int64(100), snap.Hits)
	assert.Equal(t, int64(0), snap.Fails)
	assert.Equal(t, int64(1), snap.Runs)
	assert.Equal(t, int64(100), snap.Position)
	require.NotNil(t, snap.Progress)
	assert.InDelta(t, 1.0, *snap.Progress, 0.0001)
	assert.Equal(t, 100, hits.count())

	seen := map[string]bool{}
	for _, h := range hits.hits {
		assert.False(t, seen[h.Input], "duplicate hit %s", h.Input)
		seen[h.Input] = true
		assert.Equal(t, "SUCCESS", h.Classification)
	}
}

func TestCustomStatusIsCaptured(t *testing.T) {
	hits := &hitStore{}
	j := newJob(t, job.Settings{Bots: 2}, job.Deps{
		Data:     slices(lines(4)),
		Executor: always("needs 2FA"),
		Hits:     hits,
	})

	snap := run(t, j)
	assert.Equal(t, int64(4), snap.Custom("2FA"))
	assert.Equal(t, int64(0), snap.Hits)
	assert.Equal(t, 4, hits.count())
}

func TestCaptureSetIsRespected(t *testing.T) {
	hits := &hitStore{}
	j := newJob(t, job.Settings{Bots: 2, Capture: []classify.Classification{classify.FailResult}}, job.Deps{
		Data:     slices(lines(3)),
		Executor: always("INVALID"),
		Hits:     hits,
	})

	snap := run(t, j)
	assert.Equal(t, int64(3), snap.Fails)
	assert.Equal(t, int64(3), snap.FailReasons[job.ReasonGeneric])
	assert.Equal(t, 3, hits.count())
}

func TestBanLoopEvasionBound(t *testing.T) {
	for _, bound := range []int{0, 1, 3} {
		var executions atomic.Int32
		j := newJob(t, job.Settings{Bots: 1, BanLoopEvasion: bound}, job.Deps{
			Data: slices(lines(1)),
			Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
				executions.Add(1)
				return executor.Result{Signals: []string{"BANNED"}}, nil
			}),
		})

		snap := run(t, j)
		assert.Equal(t, int32(bound+1), executions.Load(), "bound %d", bound)
		assert.Equal(t, int64(1), snap.Tested)
		assert.Equal(t, int64(1), snap.Fails)
		assert.Equal(t, int64(1), snap.FailReasons[job.ReasonBanLoopEvasion])
		assert.Equal(t, int64(bound+1), snap.Bans)
		assert.Equal(t, int64(bound), snap.Retries)
	}
}

func TestProxyPerUseLimit(t *testing.T) {
	pool := proxypool.New(proxypool.Options{MaxUsesPerProxy: 1})
	var proxies []proxypool.Proxy
	for i := 0; i < 5; i++ {
		p, err := proxypool.Parse(fmt.Sprintf("10.0.0.%d:3128", i+1), proxypool.HTTP)
		require.NoError(t, err)
		proxies = append(proxies, p)
	}
	pool.Reload(proxies)

	var mu sync.Mutex
	uses := map[string]int{}
	j := newJob(t, job.Settings{Bots: 5, UseProxies: true, ProxyWait: 20 * time.Millisecond, BanLoopEvasion: 2}, job.Deps{
		Data:    slices(lines(10)),
		Proxies: pool,
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			if px == nil {
				return executor.Result{}, errors.New("no proxy")
			}
			mu.Lock()
			uses[px.ID]++
			mu.Unlock()
			return executor.Result{Signals: []string{"SUCCESS"}}, nil
		}),
	})

	snap := run(t, j)

	assert.Len(t, uses, 5)
	for id, n := range uses {
		assert.Equal(t, 1, n, "proxy %s", id)
	}
	assert.Equal(t, int64(10), snap.Tested)
	assert.Equal(t, int64(5), snap.Hits)
	assert.Equal(t, int64(5), snap.FailReasons[job.ReasonProxyExhausted])
	assert.Zero(t, snap.Bans)
	for _, p := range pool.List() {
		assert.Equal(t, 1, p.TotalUses)
	}
}

func TestProxyExhaustionIsNotABan(t *testing.T) {
	pool := proxypool.New(proxypool.Options{MaxUsesPerProxy: 1})
	p, err := proxypool.Parse("10.0.0.1:3128", proxypool.HTTP)
	require.NoError(t, err)

	for _, bound := range []int{0, 2} {
		pool.Reload([]proxypool.Proxy{p})
		j := newJob(t, job.Settings{Bots: 1, UseProxies: true, ProxyWait: 10 * time.Millisecond, BanLoopEvasion: bound}, job.Deps{
			Data:     slices(lines(3)),
			Proxies:  pool,
			Executor: always("SUCCESS"),
		})

		snap := run(t, j)
		assert.Equal(t, int64(3), snap.Tested, "bound %d", bound)
		assert.Equal(t, int64(1), snap.Hits)
		assert.Equal(t, int64(2), snap.Fails)
		assert.Equal(t, int64(2), snap.FailReasons[job.ReasonProxyExhausted])
		assert.Zero(t, snap.FailReasons[job.ReasonBanLoopEvasion])
		assert.Zero(t, snap.Bans)
		assert.Zero(t, snap.BannedProxies)
		assert.Equal(t, int64(2*bound), snap.Retries)
	}
}

func TestBannedProxyIsReturnedBanned(t *testing.T) {
	pool := proxypool.New(proxypool.Options{})
	p, err := proxypool.Parse("10.0.0.1:3128", proxypool.HTTP)
	require.NoError(t, err)
	pool.Reload([]proxypool.Proxy{p})

	j := newJob(t, job.Settings{Bots: 1, UseProxies: true, BanLoopEvasion: 2}, job.Deps{
		Data:     slices(lines(1)),
		Proxies:  pool,
		Executor: always("BANNED"),
	})

	snap := run(t, j)
	assert.Equal(t, proxypool.Banned, pool.List()[0].Status)
	assert.Equal(t, 1, snap.BannedProxies)
	assert.Equal(t, int64(1), snap.FailReasons[job.ReasonBanLoopEvasion])
}

func TestNetworkFailuresAreRetried(t *testing.T) {
	var executions atomic.Int32
	j := newJob(t, job.Settings{Bots: 1, MaxRetries: 2}, job.Deps{
		Data: slices(lines(1)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			executions.Add(1)
			return executor.Result{}, &executor.NetworkError{Op: "dial", Err: errors.New("connection refused")}
		}),
	})

	snap := run(t, j)
	assert.Equal(t, int32(3), executions.Load())
	assert.Equal(t, int64(1), snap.Fails)
	assert.Equal(t, int64(1), snap.FailReasons[job.ReasonNetworkRetryLimit])
	assert.Equal(t, int64(2), snap.Retries)
}

func TestItemTimeoutIsANetworkFailure(t *testing.T) {
	var executions atomic.Int32
	j := newJob(t, job.Settings{Bots: 1, ItemTimeout: 10 * time.Millisecond}, job.Deps{
		Data: slices(lines(1)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			executions.Add(1)
			<-ctx.Done()
			return executor.Result{}, ctx.Err()
		}),
	})

	snap := run(t, j)
	assert.Equal(t, int32(1), executions.Load())
	assert.Equal(t, int64(1), snap.FailReasons[job.ReasonNetworkRetryLimit])
	assert.Equal(t, int64(0), snap.Errors)
}

func TestRetryClassificationIsBounded(t *testing.T) {
	var executions atomic.Int32
	j := newJob(t, job.Settings{Bots: 1, MaxRetries: 4}, job.Deps{
		Data: slices(lines(1)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			executions.Add(1)
			return executor.Result{Signals: []string{"RETRY"}}, nil
		}),
	})

	snap := run(t, j)
	assert.Equal(t, int32(5), executions.Load())
	assert.Equal(t, int64(1), snap.FailReasons[job.ReasonRetryLimit])
}

func TestThreeConsecutiveErrorsTerminate(t *testing.T) {
	var executions atomic.Int32
	j := newJob(t, job.Settings{Bots: 1, MaxRetries: 10}, job.Deps{
		Data: slices(lines(1)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			executions.Add(1)
			return executor.Result{}, errors.New("unexpected page")
		}),
	})

	snap := run(t, j)
	assert.Equal(t, int32(3), executions.Load())
	assert.Equal(t, int64(1), snap.Tested)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(2), snap.Retries)
}

func TestPanickingExecutorIsAnError(t *testing.T) {
	j := newJob(t, job.Settings{Bots: 2}, job.Deps{
		Data: slices(lines(4)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			if in.Line == "user2:pass2" {
				panic("broken config")
			}
			return executor.Result{Signals: []string{"SUCCESS"}}, nil
		}),
	})

	snap := run(t, j)
	assert.Equal(t, int64(4), snap.Tested)
	assert.Equal(t, int64(3), snap.Hits)
	assert.Equal(t, int64(1), snap.Errors)
}

func TestCommandPreconditions(t *testing.T) {
	release := make(chan struct{})
	j := newJob(t, job.Settings{Bots: 1}, job.Deps{
		Data: slices(lines(3)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			<-release
			return executor.Result{Signals: []string{"SUCCESS"}}, nil
		}),
	})

	var se *job.StateError
	err := j.Pause()
	require.ErrorAs(t, err, &se)
	assert.Equal(t, job.Idle, se.Current)
	require.ErrorIs(t, j.Resume(), job.ErrInvalidState)
	require.ErrorIs(t, j.Stop(), job.ErrInvalidState)
	require.ErrorIs(t, j.Abort(), job.ErrInvalidState)
	require.ErrorIs(t, j.SetConcurrency(0), job.ErrInvalidBots)

	require.NoError(t, j.Start(context.Background()))
	require.ErrorIs(t, j.Start(context.Background()), job.ErrInvalidState)
	require.ErrorIs(t, j.Resume(), job.ErrInvalidState)

	require.NoError(t, j.Stop())
	assert.Equal(t, job.Stopping, j.State())
	require.ErrorIs(t, j.Stop(), job.ErrInvalidState)
	require.ErrorIs(t, j.SetConcurrency(2), job.ErrInvalidState)

	close(release)
	require.NoError(t, j.Wait(waitCtx(t)))
	assert.Equal(t, job.Idle, j.State())
	assert.Equal(t, int64(1), j.Snapshot().Tested)
}

func TestCommandAfterRunEndedIsAStateError(t *testing.T) {
	j := newJob(t, job.Settings{Bots: 1}, job.Deps{Data: slices(lines(1)), Executor: always("SUCCESS")})

	job.EndDispatcher(j, job.Running)
	var stateErr *job.StateError
	require.ErrorAs(t, j.Pause(), &stateErr)
	assert.Equal(t, job.Running, stateErr.Current)
	assert.ErrorIs(t, j.Pause(), job.ErrInvalidState)

	job.EndDispatcher(j, job.Paused)
	require.ErrorAs(t, j.Resume(), &stateErr)
	assert.Equal(t, job.Paused, stateErr.Current)
	assert.Equal(t, job.Paused, j.State())
}

func TestStartFailsWithoutProxies(t *testing.T) {
	j := newJob(t, job.Settings{Bots: 1, UseProxies: true}, job.Deps{
		Data:     slices(lines(3)),
		Executor: always("SUCCESS"),
		Proxies:  proxypool.New(proxypool.Options{}),
	})

	err := j.Start(context.Background())
	require.ErrorIs(t, err, job.ErrNoProxies)
	snap := j.Snapshot()
	assert.Equal(t, job.Idle, snap.Status)
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, int64(0), snap.Runs)
}

func TestStartFailsWithoutData(t *testing.T) {
	j := newJob(t, job.Settings{Bots: 1}, job.Deps{
		Data: func(opts ...datapool.Option) (datapool.Pool, error) {
			return nil, errors.New("file not found")
		},
		Executor: always("SUCCESS"),
	})

	require.ErrorIs(t, j.Start(context.Background()), job.ErrNoData)
	assert.Equal(t, job.Idle, j.State())
}

func TestPauseAndResume(t *testing.T) {
	gate := make(chan struct{})
	var started atomic.Int32
	j := newJob(t, job.Settings{Bots: 2}, job.Deps{
		Data: slices(lines(20)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			started.Add(1)
			<-gate
			return executor.Result{Signals: []string{"SUCCESS"}}, nil
		}),
	})

	require.NoError(t, j.Start(context.Background()))
	require.Eventually(t, func() bool { return started.Load() == 2 }, 5*time.Second, time.Millisecond)

	require.NoError(t, j.Pause())
	assert.Equal(t, job.Pausing, j.State())
	close(gate)
	require.Eventually(t, func() bool { return j.State() == job.Paused }, 5*time.Second, time.Millisecond)

	snap := j.Snapshot()
	assert.Equal(t, 0, snap.ActiveBots)
	assert.Equal(t, int64(2), snap.Tested)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), started.Load())

	require.NoError(t, j.Resume())
	assert.Equal(t, job.Running, j.State())
	require.NoError(t, j.Wait(waitCtx(t)))
	assert.Equal(t, int64(20), j.Snapshot().Hits)
}

func TestHardAbortDropsInFlight(t *testing.T) {
	var started atomic.Int32
	hits := &hitStore{}
	j := newJob(t, job.Settings{Bots: 3}, job.Deps{
		Data: slices(lines(50)),
		Hits: hits,
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			started.Add(1)
			<-ctx.Done()
			return executor.Result{}, ctx.Err()
		}),
	})

	require.NoError(t, j.Start(context.Background()))
	require.Eventually(t, func() bool { return started.Load() == 3 }, 5*time.Second, time.Millisecond)
	require.NoError(t, j.Abort())
	require.NoError(t, j.Wait(waitCtx(t)))

	snap := j.Snapshot()
	assert.Equal(t, job.Idle, snap.Status)
	assert.Equal(t, int64(0), snap.Tested)
	assert.Equal(t, int64(0), snap.Errors)
	assert.Equal(t, 0, hits.count())
}

func TestStartAtSkipsLinesOnce(t *testing.T) {
	var mu sync.Mutex
	var inputs []string
	j := newJob(t, job.Settings{Bots: 1, StartAt: 7}, job.Deps{
		Data: slices(lines(10)),
		Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
			mu.Lock()
			inputs = append(inputs, in.Line)
			mu.Unlock()
			return executor.Result{Signals: []string{"SUCCESS"}}, nil
		}),
	})

	snap := run(t, j)
	assert.Equal(t, []string{"user7:pass7", "user8:pass8", "user9:pass9"}, inputs)
	assert.Equal(t, int64(3), snap.Tested)
	assert.Equal(t, int64(0), j.Settings().StartAt)

	snap = run(t, j)
	assert.Equal(t, int64(10), snap.Tested, "metrics reset on every start")
	assert.Equal(t, int64(2), snap.Runs)
}

type stateLog struct {
	mu     sync.Mutex
	states []models.JobState
}

func (s *stateLog) SaveState(ctx context.Context, st *models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, *st)
	return nil
}

func (s *stateLog) saved() []models.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobState(nil), s.states...)
}

func TestResumeCursorWaitsForSlowLine(t *testing.T) {
	for _, startAt := range []int64{0, 4} {
		data := lines(10)
		slow := data[startAt]
		release := make(chan struct{})
		states := &stateLog{}
		j := newJob(t, job.Settings{Bots: 2, StartAt: startAt, MetricsInterval: 5 * time.Millisecond}, job.Deps{
			Data:   slices(data),
			States: states,
			Executor: executor.ExecutorFunc(func(ctx context.Context, in executor.Input, px *proxypool.Proxy) (executor.Result, error) {
				if in.Line == slow {
					select {
					case <-release:
					case <-ctx.Done():
						return executor.Result{}, ctx.Err()
					}
				}
				return executor.Result{Signals: []string{"SUCCESS"}}, nil
			}),
		})
		require.NoError(t, j.Start(context.Background()))

		// Every other line finishes and is saved while the slow one is out.
		others := int64(len(data)) - startAt - 1
		require.Eventually(t, func() bool {
			for _, st := range states.saved() {
				var snap job.Snapshot
				if json.Unmarshal(st.Metrics, &snap) == nil && snap.Tested == others {
					return true
				}
			}
			return false
		}, 5*time.Second, 5*time.Millisecond)

		for _, st := range states.saved() {
			assert.Equal(t, startAt, st.Position, "start at %d", startAt)
		}

		close(release)
		require.NoError(t, j.Wait(waitCtx(t)))
		assert.Equal(t, others+1, j.Snapshot().Tested)
	}
}

// brokenPool ends early with a read error.
type brokenPool struct {
	*datapool.SlicePool
	err error
}

func (p brokenPool) Err() error { return p.err }

func TestDataReadErrorIsReported(t *testing.T) {
	states := &stateLog{}
	readErr := errors.New("failed to read wordlist: token too long")
	j := newJob(t, job.Settings{Bots: 2}, job.Deps{
		Data: func(opts ...datapool.Option) (datapool.Pool, error) {
			return brokenPool{SlicePool: datapool.NewSlicePool(lines(3), opts...), err: readErr}, nil
		},
		Executor: always("SUCCESS"),
		States:   states,
	})

	snap := run(t, j)

	assert.Equal(t, job.Idle, snap.Status)
	assert.Equal(t, int64(3), snap.Tested)
	assert.Equal(t, readErr.Error(), snap.LastError)

	saved := states.saved()
	require.NotEmpty(t, saved)
	assert.Equal(t, int64(3), saved[len(saved)-1].Position, "cursor kept after a read error")
}

func TestCPMDecays(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	j := newJob(t, job.Settings{Bots: 4}, job.Deps{
		Data:     slices(lines(30)),
		Executor: always("SUCCESS"),
		Now:      clk.Now,
	})

	snap := run(t, j)
	assert.InDelta(t, 30.0, snap.CPM, 0.001)

	clk.Advance(30 * time.Second)
	assert.InDelta(t, 30.0, j.Snapshot().CPM, 0.001)

	clk.Advance(31 * time.Second)
	snap = j.Snapshot()
	assert.Zero(t, snap.CPM)
	assert.Nil(t, snap.RemainingSeconds)
}

func TestUnboundedDataHasNoEstimate(t *testing.T) {
	j := newJob(t, job.Settings{Bots: 2}, job.Deps{
		Data: func(opts ...datapool.Option) (datapool.Pool, error) {
			return datapool.NewInfinitePool(opts...), nil
		},
		Executor: always("SUCCESS"),
	})

	require.NoError(t, j.Start(context.Background()))
	require.Eventually(t, func() bool { return j.Snapshot().Tested > 10 }, 5*time.Second, time.Millisecond)

	snap := j.Snapshot()
	assert.Nil(t, snap.Progress)
	assert.Nil(t, snap.RemainingSeconds)

	require.NoError(t, j.Stop())
	require.NoError(t, j.Wait(waitCtx(t)))
}

type fakeChecker struct {
	working map[string]bool
}

func (c fakeChecker) Check(ctx context.Context, px *proxypool.Proxy) (executor.CheckResult, error) {
	if c.working[px.Host] {
		return executor.CheckResult{Working: true, Latency: 15 * time.Millisecond, Country: "DE"}, nil
	}
	return executor.CheckResult{}, &executor.NetworkError{Op: "dial", Err: errors.New("refused")}
}

type checkRecorder struct {
	mu      sync.Mutex
	checked []proxypool.Proxy
}

func (r *checkRecorder) RecordCheck(ctx context.Context, p proxypool.Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked = append(r.checked, p)
	return nil
}

func TestProxyCheckJob(t *testing.T) {
	pool := proxypool.New(proxypool.Options{})
	var proxies []proxypool.Proxy
	for i := 1; i <= 4; i++ {
		p, err := proxypool.Parse(fmt.Sprintf("10.0.0.%d:1080", i), proxypool.SOCKS5)
		require.NoError(t, err)
		proxies = append(proxies, p)
	}
	pool.Reload(proxies)

	rec := &checkRecorder{}
	j, err := job.New("check-1", "check", job.ProxyCheck, job.Settings{Bots: 2}, job.Deps{
		Checker: fakeChecker{working: map[string]bool{"10.0.0.1": true, "10.0.0.3": true}},
		Proxies: pool,
		Checked: rec,
	})
	require.NoError(t, err)

	snap := run(t, j)

	assert.Equal(t, int64(4), snap.Tested)
	assert.Equal(t, int64(2), snap.Hits)
	assert.Equal(t, int64(2), snap.Fails)
	assert.Equal(t, 2, snap.AliveProxies)
	assert.Equal(t, int64(4), snap.DataSize)

	ps := pool.Snapshot()
	assert.Equal(t, 2, ps.Working)
	assert.Equal(t, 2, ps.NotWorking)
	for _, p := range pool.List() {
		if p.Status == proxypool.Working {
			assert.Equal(t, "DE", p.Country)
		}
	}
	assert.Len(t, rec.checked, 4)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := job.New("a", "a", job.MultiRun, job.Settings{Bots: 1}, job.Deps{})
	require.ErrorIs(t, err, job.ErrNoData)

	_, err = job.New("a", "a", job.MultiRun, job.Settings{Bots: 0}, job.Deps{
		Data: slices(nil), Executor: always("x"), Classifier: keywords(),
	})
	require.ErrorIs(t, err, job.ErrInvalidBots)

	_, err = job.New("a", "a", job.ProxyCheck, job.Settings{Bots: 1}, job.Deps{})
	require.Error(t, err)

	_, err = job.New("a", "a", job.Kind("other"), job.Settings{Bots: 1}, job.Deps{})
	require.Error(t, err)
}
