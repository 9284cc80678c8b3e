// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leseb/docqa/pkg/sources"
)

func init() {
	sources.Providers.Register("memory", func(_ context.Context, _ map[string]string) (sources.Store, error) {
		return New(), nil
	})
}

// compile-time check
var _ sources.Store = (*Store)(nil)

type document struct {
	content []byte
	modTime time.Time
}

// Store is an in-memory source store.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]map[string]document
}

// New creates a new in-memory source store.
func New() *Store {
	return &Store{tenants: make(map[string]map[string]document)}
}

func (s *Store) CreateTenant(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant]; ok {
		return sources.TenantExists(tenant)
	}
	s.tenants[tenant] = make(map[string]document)
	return nil
}

func (s *Store) TenantExists(_ context.Context, tenant string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[tenant]
	return ok, nil
}

func (s *Store) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for t := range s.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) DeleteTenant(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant]; !ok {
		return sources.TenantUnknown(tenant)
	}
	delete(s.tenants, tenant)
	return nil
}

func (s *Store) Put(_ context.Context, tenant, name string, content []byte) error {
	if err := sources.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.tenants[tenant]
	if !ok {
		return sources.TenantUnknown(tenant)
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	docs[name] = document{content: cp, modTime: time.Now()}
	return nil
}

func (s *Store) Get(_ context.Context, tenant, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, ok := s.tenants[tenant]
	if !ok {
		return nil, sources.TenantUnknown(tenant)
	}
	d, ok := docs[name]
	if !ok {
		return nil, sources.DocumentNotFound(tenant, name)
	}
	cp := make([]byte, len(d.content))
	copy(cp, d.content)
	return cp, nil
}

func (s *Store) List(_ context.Context, tenant string) ([]sources.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, ok := s.tenants[tenant]
	if !ok {
		return nil, sources.TenantUnknown(tenant)
	}
	out := make([]sources.Document, 0, len(docs))
	for name, d := range docs {
		out = append(out, sources.Document{
			Tenant:  tenant,
			Name:    name,
			Bytes:   int64(len(d.content)),
			ModTime: d.modTime,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Delete(_ context.Context, tenant, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.tenants[tenant]
	if !ok {
		return sources.TenantUnknown(tenant)
	}
	if _, ok := docs[name]; !ok {
		return sources.DocumentNotFound(tenant, name)
	}
	delete(docs, name)
	return nil
}

func (s *Store) DeleteAll(_ context.Context, tenant string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.tenants[tenant]
	if !ok {
		return 0, sources.TenantUnknown(tenant)
	}
	n := len(docs)
	s.tenants[tenant] = make(map[string]document)
	return n, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close(_ context.Context) error {
	return nil
}
