// Package proxysource loads the proxy lists a ProxyPool is reloaded from.
package proxysource

import (
	"context"
	"fmt"
	"sync"

	"go-config-runner/internal/logger"
	"go-config-runner/internal/proxypool"

	"golang.org/x/sync/errgroup"
)

// Source supplies a fresh proxy list on every Load.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]proxypool.Proxy, error)
}

// Multi loads several sources concurrently and merges the results. Proxies
// that appear in more than one source are kept once, first source wins.
type Multi struct {
	sources []Source
	// Tolerant keeps going when a source fails as long as another succeeded.
	Tolerant bool
}

func NewMulti(sources ...Source) *Multi {
	return &Multi{sources: sources}
}

func (m *Multi) Name() string {
	return fmt.Sprintf("multi(%d)", len(m.sources))
}

func (m *Multi) Load(ctx context.Context) ([]proxypool.Proxy, error) {
	log := logger.WithComponent("proxysource")
	results := make([][]proxypool.Proxy, len(m.sources))

	var (
		mu     sync.Mutex
		failed []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range m.sources {
		g.Go(func() error {
			proxies, err := src.Load(gctx)
			if err != nil {
				err = fmt.Errorf("source %s: %w", src.Name(), err)
				if !m.Tolerant {
					return err
				}
				log.Warn().Err(err).Msg("Proxy source failed")
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
				return nil
			}
			results[i] = proxies
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failed) == len(m.sources) && len(failed) > 0 {
		return nil, failed[0]
	}

	seen := make(map[string]bool)
	var merged []proxypool.Proxy
	for _, proxies := range results {
		for _, p := range proxies {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			merged = append(merged, p)
		}
	}
	return merged, nil
}

// Static serves a fixed list, such as proxy lines given inline.
type Static struct {
	Proxies []proxypool.Proxy
}

func (s Static) Name() string { return "static" }

func (s Static) Load(context.Context) ([]proxypool.Proxy, error) {
	out := make([]proxypool.Proxy, len(s.Proxies))
	copy(out, s.Proxies)
	return out, nil
}
