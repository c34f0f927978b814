// Package app assembles runnable jobs from persisted definitions.
package app

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/datapool"
	"go-config-runner/internal/events"
	"go-config-runner/internal/executor"
	"go-config-runner/internal/job"
	"go-config-runner/internal/proxypool"
	"go-config-runner/internal/proxysource"
)

// ProxyStore is the proxy repository as seen by jobs: group lookups for
// group sources and check results for proxy-check jobs.
type ProxyStore interface {
	proxysource.GroupStore
	job.ProxyRecorder
}

// Builder resolves the external parts of a definition. Every repository is
// optional.
type Builder struct {
	Configs *classify.ConfigStore
	Hits    job.HitRepository
	States  job.StateRepository
	Proxies ProxyStore
	Events  events.Publisher

	MetricsInterval time.Duration
	// ProxyWait applies to definitions that do not set their own.
	ProxyWait time.Duration
	MaxBots   int
}

func (b *Builder) Build(def job.Definition) (*job.Job, error) {
	if b.MaxBots > 0 && def.Bots > b.MaxBots {
		return nil, fmt.Errorf("%w: %d exceeds the maximum of %d", job.ErrInvalidBots, def.Bots, b.MaxBots)
	}

	settings := def.Settings()
	settings.MetricsInterval = b.MetricsInterval
	if def.ProxyWaitMs == 0 && settings.UseProxies && b.ProxyWait > 0 {
		settings.ProxyWait = b.ProxyWait
	}

	deps := job.Deps{
		Hits:   b.Hits,
		States: b.States,
		Events: b.Events,
	}
	if b.Proxies != nil {
		deps.Checked = b.Proxies
	}

	if def.Proxies != nil {
		src, err := ProxySource(def.Proxies, b.Proxies)
		if err != nil {
			return nil, err
		}
		deps.ProxySource = src
		deps.Proxies = proxypool.New(proxypool.Options{
			MaxUsesPerProxy:     def.Proxies.MaxUses,
			AllowDegraded:       def.Proxies.AllowDegraded,
			AllowConcurrentUse:  def.Proxies.AllowConcurrentUse,
			MaxFailuresPerProxy: def.Proxies.MaxFailures,
		})
	}

	switch def.Kind {
	case job.MultiRun:
		if b.Configs == nil {
			return nil, errors.New("no runner config directory")
		}
		cfg, err := b.Configs.Load(def.Config)
		if err != nil {
			return nil, err
		}
		data, err := DataFactory(def.Data)
		if err != nil {
			return nil, err
		}
		deps.Data = data
		deps.Executor = executor.NewHTTPExecutor(cfg)
		deps.Classifier = cfg.Classifier

	case job.ProxyCheck:
		deps.Checker = executor.NewProxyChecker(def.CheckTarget, def.CheckKey, settings.ItemTimeout)
	}

	return job.New(def.ID, def.Name, def.Kind, settings, deps)
}

// DataFactory returns a factory that opens the data source of spec. Files
// are opened on every call so each run streams from the start.
func DataFactory(spec job.DataSpec) (job.DataFactory, error) {
	var base []datapool.Option
	if spec.Regex != "" {
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid data regex: %w", err)
		}
		base = append(base, datapool.WithLineRegex(re))
	}

	withBase := func(opts []datapool.Option) []datapool.Option {
		return append(append([]datapool.Option(nil), base...), opts...)
	}

	switch spec.Type {
	case job.DataFile:
		return func(opts ...datapool.Option) (datapool.Pool, error) {
			return datapool.NewFilePool(spec.Path, withBase(opts)...)
		}, nil
	case job.DataLines:
		return func(opts ...datapool.Option) (datapool.Pool, error) {
			return datapool.NewSlicePool(spec.Lines, withBase(opts)...), nil
		}, nil
	case job.DataRange:
		return func(opts ...datapool.Option) (datapool.Pool, error) {
			return datapool.NewRangePool(spec.Start, spec.Step, spec.Count, withBase(opts)...)
		}, nil
	case job.DataCombinations:
		return func(opts ...datapool.Option) (datapool.Pool, error) {
			return datapool.NewCombinationsPool(spec.Charset, spec.Length, withBase(opts)...)
		}, nil
	case job.DataInfinite:
		return func(opts ...datapool.Option) (datapool.Pool, error) {
			return datapool.NewInfinitePool(withBase(opts)...), nil
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown data type %q", datapool.ErrNoSource, spec.Type)
}

// ProxySource returns the source a job's pool reloads from. store is only
// needed for group sources.
func ProxySource(spec *job.ProxySpec, store proxysource.GroupStore) (proxysource.Source, error) {
	src, err := singleProxySource(spec, store)
	if err != nil || len(spec.Also) == 0 {
		return src, err
	}
	sources := []proxysource.Source{src}
	for i := range spec.Also {
		more, err := singleProxySource(&spec.Also[i], store)
		if err != nil {
			return nil, err
		}
		sources = append(sources, more)
	}
	// One unreachable list does not block the others.
	multi := proxysource.NewMulti(sources...)
	multi.Tolerant = true
	return multi, nil
}

func singleProxySource(spec *job.ProxySpec, store proxysource.GroupStore) (proxysource.Source, error) {
	defaultType, err := proxypool.ParseType(spec.Type)
	if err != nil {
		return nil, err
	}

	switch spec.Source {
	case job.ProxyFile:
		return proxysource.NewFileSource(spec.Path, defaultType), nil
	case job.ProxyURL:
		return proxysource.NewRemoteSource(spec.URL, defaultType), nil
	case job.ProxyGroup:
		if store == nil {
			return nil, fmt.Errorf("proxy group %q needs a database", spec.Group)
		}
		return proxysource.NewGroupSource(store, spec.Group), nil
	case job.ProxyLines:
		proxies, errs := proxypool.ParseLines(spec.Lines, defaultType)
		if len(proxies) == 0 {
			if len(errs) > 0 {
				return nil, fmt.Errorf("%w: %w", job.ErrNoProxySrc, errors.Join(errs...))
			}
			return nil, job.ErrNoProxySrc
		}
		return proxysource.Static{Proxies: proxies}, nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", job.ErrNoProxySrc, spec.Source)
}
