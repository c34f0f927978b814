package proxysource

import (
	"context"
	"fmt"

	"go-config-runner/internal/proxypool"
)

// GroupStore is the part of the proxy repository a GroupSource needs.
type GroupStore interface {
	ListGroup(ctx context.Context, group string) ([]proxypool.Proxy, error)
}

// GroupSource loads the proxies imported into a named group.
type GroupSource struct {
	Group string
	store GroupStore
}

func NewGroupSource(store GroupStore, group string) *GroupSource {
	return &GroupSource{Group: group, store: store}
}

func (s *GroupSource) Name() string {
	return "group:" + s.Group
}

func (s *GroupSource) Load(ctx context.Context) ([]proxypool.Proxy, error) {
	proxies, err := s.store.ListGroup(ctx, s.Group)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy group %q: %w", s.Group, err)
	}
	return proxies, nil
}
