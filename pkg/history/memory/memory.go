// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/leseb/docqa/pkg/history"
)

func init() {
	history.Providers.Register("memory", func(_ context.Context, _ map[string]string) (history.Store, error) {
		return New(), nil
	})
}

var _ history.Store = (*Store)(nil)

// Store is an in-memory implementation of history.Store
type Store struct {
	mu   sync.RWMutex
	runs map[string]*history.Run
}

// New creates a new in-memory store
func New() *Store {
	return &Store{runs: make(map[string]*history.Run)}
}

// Record stores a copy of run
func (s *Store) Record(_ context.Context, run *history.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	cp.FailedFiles = append([]string(nil), run.FailedFiles...)
	s.runs[run.ID] = &cp
	return nil
}

// List returns the tenant's runs, newest first
func (s *Store) List(_ context.Context, tenant string, limit int) ([]*history.Run, error) {
	if limit <= 0 {
		limit = history.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*history.Run
	for _, r := range s.runs {
		if r.Tenant == tenant {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteTenant drops every run of tenant
func (s *Store) DeleteTenant(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.runs {
		if r.Tenant == tenant {
			delete(s.runs, id)
		}
	}
	return nil
}

// DeleteAll drops every run
func (s *Store) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string]*history.Run)
	return nil
}

// Close is a no-op
func (s *Store) Close() error { return nil }
