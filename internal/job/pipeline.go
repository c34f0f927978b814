package job

import (
	"context"
	"errors"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/events"
	"go-config-runner/internal/executor"
	"go-config-runner/internal/parallel"
	"go-config-runner/internal/proxypool"
)

func (j *Job) work(r *run) parallel.WorkFunc[*item, Outcome] {
	return func(ctx context.Context, it *item) (Outcome, error) {
		it.attempts++
		if it.proxy != nil {
			return j.checkProxy(ctx, r, it)
		}
		return j.execute(ctx, r, it)
	}
}

// lease is a borrowed proxy that goes back to the pool exactly once.
type lease struct {
	pool     *proxypool.Pool
	px       *proxypool.Proxy
	returned bool
}

func (l *lease) name() string {
	if l == nil || l.px == nil {
		return ""
	}
	return l.px.Address()
}

func (l *lease) release(o proxypool.Outcome) {
	if l == nil || l.px == nil || l.returned {
		return
	}
	l.returned = true
	// A stale proxy belongs to a pool generation that no longer exists.
	_ = l.pool.Return(l.px, o)
}

func (j *Job) execute(ctx context.Context, r *run, it *item) (Outcome, error) {
	s := r.settings

	var l *lease
	if s.UseProxies {
		px, err := j.deps.Proxies.Acquire(ctx, s.ProxyWait)
		if errors.Is(err, proxypool.ErrExhausted) {
			return j.noProxy(r, it)
		}
		if err != nil {
			return Outcome{}, err
		}
		l = &lease{pool: j.deps.Proxies, px: px}
		defer l.release(proxypool.OutcomeReleased)
	}

	execCtx := ctx
	if s.ItemTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.ItemTimeout)
		defer cancel()
	}

	var px *proxypool.Proxy
	if l != nil {
		px = l.px
	}
	res, err := j.deps.Executor.Execute(execCtx, executor.Input{Line: it.line.Value, Attempt: it.attempts}, px)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && !executor.IsNetworkError(err) {
			err = &executor.NetworkError{Op: "execute", Err: err}
		}
		if executor.IsNetworkError(err) {
			l.release(proxypool.OutcomeNetworkFailure)
			return j.retry(r, it, ReasonNetworkRetryLimit, l.name(), err)
		}
		return j.errored(r, it, l.name(), err)
	}

	c := j.deps.Classifier.Classify(res.Signals)
	switch c.Kind {
	case classify.Ban:
		l.release(proxypool.OutcomeBanned)
		return j.ban(r, it, l.name())
	case classify.Retry:
		return j.retry(r, it, ReasonRetryLimit, l.name(), nil)
	case classify.Error:
		return j.errored(r, it, l.name(), nil)
	}
	l.release(proxypool.OutcomeSuccess)
	return finalOutcome(c, "", res.Captured, l.name(), nil), nil
}

// checkProxy tests the proxy carried by it and records the verdict in the pool.
func (j *Job) checkProxy(ctx context.Context, r *run, it *item) (Outcome, error) {
	px := it.proxy
	res, err := j.deps.Checker.Check(ctx, px)
	if err != nil && ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	if err == nil && res.Working {
		j.deps.Proxies.SetResult(px.ID, proxypool.Working, res.Latency, res.Country)
		checked := *px
		checked.Status = proxypool.Working
		checked.Latency = res.Latency
		checked.Country = res.Country
		r.writer.proxy(checked)
		return finalOutcome(classify.SuccessResult, "", map[string]string{
			"latency": res.Latency.String(),
			"country": res.Country,
		}, px.Address(), nil), nil
	}

	j.deps.Proxies.SetResult(px.ID, proxypool.NotWorking, res.Latency, "")
	checked := *px
	checked.Status = proxypool.NotWorking
	r.writer.proxy(checked)
	return finalOutcome(classify.FailResult, ReasonGeneric, nil, px.Address(), err), nil
}

// ban counts a ban against the item and tries it again unless ban-loop
// evasion says it has had enough.
func (j *Job) ban(r *run, it *item, proxy string) (Outcome, error) {
	it.bans++
	it.errStreak = 0
	if it.bans > r.settings.BanLoopEvasion {
		o := finalOutcome(classify.FailResult, ReasonBanLoopEvasion, nil, proxy, nil)
		o.Banned = true
		return o, nil
	}
	return j.requeue(r, it, Outcome{Classification: classify.BanResult, Proxy: proxy, Banned: true})
}

// noProxy retries an item that found no free proxy. The target never saw
// it, so it is not a ban, but it shares the ban-loop evasion bound.
func (j *Job) noProxy(r *run, it *item) (Outcome, error) {
	it.bans++
	it.errStreak = 0
	if it.bans > r.settings.BanLoopEvasion {
		return finalOutcome(classify.FailResult, ReasonProxyExhausted, nil, "", proxypool.ErrExhausted), nil
	}
	return j.requeue(r, it, Outcome{Classification: classify.RetryResult, Err: proxypool.ErrExhausted})
}

func (j *Job) retry(r *run, it *item, reason, proxy string, cause error) (Outcome, error) {
	it.retries++
	it.errStreak = 0
	if it.retries > r.settings.MaxRetries {
		return finalOutcome(classify.FailResult, reason, nil, proxy, cause), nil
	}
	return j.requeue(r, it, Outcome{Classification: classify.RetryResult, Proxy: proxy, Err: cause})
}

func (j *Job) errored(r *run, it *item, proxy string, cause error) (Outcome, error) {
	it.errStreak++
	if it.errStreak >= maxConsecutiveErrors {
		return finalOutcome(classify.ErrorResult, ReasonErrorLimit, nil, proxy, cause), nil
	}
	return j.requeue(r, it, Outcome{Classification: classify.ErrorResult, Proxy: proxy, Err: cause})
}

func (j *Job) requeue(r *run, it *item, o Outcome) (Outcome, error) {
	if err := r.par.Requeue(it.next()); err != nil {
		// The run is stopping, the item is left untested.
		return Outcome{}, err
	}
	return o, nil
}

func finalOutcome(c classify.Classification, reason string, captured map[string]string, proxy string, cause error) Outcome {
	return Outcome{
		Classification: c,
		Final:          true,
		Reason:         reason,
		Captured:       captured,
		Proxy:          proxy,
		Err:            cause,
	}
}

func (j *Job) handleOutcome(r *run, it *item, o Outcome) {
	now := j.deps.Now()

	if o.Classification.Kind == classify.Error {
		data := map[string]any{
			"input":    it.input(),
			"attempt":  it.attempts,
			"final":    o.Final,
			"proxy":    o.Proxy,
			"reason":   o.Reason,
			"position": it.line.Index,
		}
		if o.Err != nil {
			data["error"] = o.Err.Error()
		}
		j.deps.Events.Publish(events.Event{Type: events.ItemError, JobID: j.id, Time: now, Data: data})
	}

	if !o.Final {
		j.metrics.recordRetry(o.Banned)
		return
	}
	r.settle(it.line.Index)
	if o.Banned {
		j.metrics.bans.Add(1)
	}
	j.metrics.recordTerminal(o.Classification, o.Reason, now)

	if !j.captures(o.Classification) {
		return
	}
	hit := HitRecord{
		JobID:          j.id,
		Input:          it.input(),
		Captured:       o.Captured,
		Proxy:          o.Proxy,
		Classification: o.Classification,
		Time:           now,
	}
	j.deps.Events.Publish(events.Event{Type: events.HitFound, JobID: j.id, Time: now, Data: hit})
	if j.kind == MultiRun {
		r.writer.hit(hit)
	}
}

// handleFailure receives attempts that produced no outcome. Cancelled ones
// are not counted, anything else is a fault of that item.
func (j *Job) handleFailure(r *run, it *item, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, parallel.ErrNotRunning) {
		return
	}

	j.log.Error().Err(err).Str("input", it.input()).Msg("Item faulted")
	j.handleOutcome(r, it, Outcome{
		Classification: classify.ErrorResult,
		Final:          true,
		Reason:         ReasonFault,
		Err:            err,
	})
}
