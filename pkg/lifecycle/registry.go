// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/retry"
	"github.com/leseb/docqa/pkg/tenant"
	"github.com/leseb/docqa/pkg/vectorstore"
)

// Handle is an opened tenant store.
type Handle struct {
	Tenant     string
	Store      *vectorstore.Store
	Generation uint64
	OpenedAt   time.Time
}

// Registry is the process-wide cache of opened stores, keyed by tenant.
// Each tenant has a generation counter that Invalidate bumps; an open that
// started before an invalidation is never cached.
type Registry struct {
	layout      tenant.Layout
	fingerprint string
	openRetry   retry.Policy
	log         *logging.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	gens    map[string]uint64
	epoch   uint64 // bumped by InvalidateAll
	group   singleflight.Group

	opens int // successful opens, for tests and metrics
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Fingerprint of the embedding provider in use. Stores built with a
	// different one are reported as not ready.
	Fingerprint string

	// OpenAttempts bounds retries of opens that fail without a corruption
	// signature.
	OpenAttempts int
	OpenDelay    time.Duration

	Logger *logging.Logger
}

// NewRegistry creates an empty registry over layout.
func NewRegistry(layout tenant.Layout, opts RegistryOptions) *Registry {
	log := logging.OrDiscard(opts.Logger).Component("registry")
	return &Registry{
		layout:      layout,
		fingerprint: opts.Fingerprint,
		openRetry: retry.Policy{
			MaxAttempts: opts.OpenAttempts,
			BaseDelay:   opts.OpenDelay,
			Retryable: func(err error) bool {
				return !errors.Is(err, vectorstore.ErrNoStore) && !vectorstore.IsCorruption(err) &&
					!errors.Is(err, errs.ErrNotReady) && !errors.Is(err, context.Canceled)
			},
			OnRetry: func(attempt int, err error, wait time.Duration) {
				log.Warn("store open failed, retrying", "attempt", attempt, "wait", wait, "error", err)
			},
		},
		log:     log,
		handles: make(map[string]*Handle),
		gens:    make(map[string]uint64),
	}
}

// GetOrOpen returns the cached handle for tenant, opening the store if
// needed. Concurrent callers for the same tenant share one open.
//
// Errors: errs.ErrNotReady when there is no store or it was built with a
// different embedder; otherwise the open error, which IsCorruption
// classifies.
func (r *Registry) GetOrOpen(ctx context.Context, tn string) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.handles[tn]; ok {
		r.mu.Unlock()
		return h, nil
	}
	gen := r.generation(tn)
	r.mu.Unlock()

	key := tn + "\x00" + strconv.FormatUint(gen, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.open(ctx, tn, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Registry) open(ctx context.Context, tn string, gen uint64) (*Handle, error) {
	dir := r.layout.StoreDir(tn)
	store, err := retry.Value(ctx, r.openRetry, func(ctx context.Context, _ int) (*vectorstore.Store, error) {
		return vectorstore.Open(ctx, dir)
	})
	if errors.Is(err, vectorstore.ErrNoStore) {
		return nil, errs.NotReady("open", tn, fmt.Errorf("no vector store, run ingestion first"))
	}
	if err != nil {
		return nil, err
	}

	meta := store.Meta()
	if r.fingerprint != "" && meta.Embedder != r.fingerprint {
		return nil, errs.NotReady("open", tn,
			fmt.Errorf("store was built with embedder %q, current embedder is %q; re-run ingestion", meta.Embedder, r.fingerprint))
	}

	h := &Handle{Tenant: tn, Store: store, Generation: gen, OpenedAt: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.generation(tn) == gen {
		r.handles[tn] = h
	}
	r.log.Debug("store opened", "tenant", tn, "chunks", store.Len(), "generation", gen)
	return h, nil
}

// generation only grows; equal values mean no invalidation happened in
// between. Callers hold r.mu.
func (r *Registry) generation(tn string) uint64 {
	return r.gens[tn] + r.epoch
}

// Peek returns the cached handle without opening anything.
func (r *Registry) Peek(tn string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[tn]
	return h, ok
}

// Invalidate drops the cached handle for tenant. Opens already in flight
// will not be cached.
func (r *Registry) Invalidate(tn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, tn)
	r.gens[tn]++
}

// InvalidateAll drops every cached handle.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.handles = make(map[string]*Handle)
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Opens returns how many stores were opened from disk.
func (r *Registry) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}
