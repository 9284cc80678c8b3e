// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/leseb/docqa/pkg/core/errs"
)

// writeWeight is the weight a writer takes. Readers take 1, so a writer
// excludes every reader and a queued writer holds back new readers.
const writeWeight = 1 << 30

// Gate coordinates access to each tenant's store.
//
// Two locks exist per tenant. The relearn lock serialises ingestions and
// edits of the source set. The store lock is a readers/writer lock over the
// store directory and its cached handle: queries read, rebuilds and
// destructive operations write.
type Gate struct {
	mu      sync.Mutex
	tenants map[string]*tenantLocks
}

type tenantLocks struct {
	relearn *semaphore.Weighted
	store   *semaphore.Weighted
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{tenants: make(map[string]*tenantLocks)}
}

func (g *Gate) locks(tenant string) *tenantLocks {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.tenants[tenant]
	if !ok {
		l = &tenantLocks{
			relearn: semaphore.NewWeighted(1),
			store:   semaphore.NewWeighted(writeWeight),
		}
		g.tenants[tenant] = l
	}
	return l
}

// Relearn takes the tenant's relearn lock. With wait false it fails at once
// with errs.ErrRelearnInProgress if the lock is held.
func (g *Gate) Relearn(ctx context.Context, tenant string, wait bool) (release func(), err error) {
	sem := g.locks(tenant).relearn
	if !wait {
		if !sem.TryAcquire(1) {
			return nil, errs.Busy("relearn", tenant, errs.ErrRelearnInProgress)
		}
		return func() { sem.Release(1) }, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// Write takes the tenant's store lock exclusively.
func (g *Gate) Write(ctx context.Context, tenant string) (release func(), err error) {
	sem := g.locks(tenant).store
	if err := sem.Acquire(ctx, writeWeight); err != nil {
		return nil, err
	}
	return func() { sem.Release(writeWeight) }, nil
}

// Read takes the tenant's store lock shared, waiting at most maxWait.
// A timeout is reported as errs.ErrRebuilding. maxWait <= 0 waits until
// ctx ends.
func (g *Gate) Read(ctx context.Context, tenant string, maxWait time.Duration) (release func(), err error) {
	sem := g.locks(tenant).store
	if sem.TryAcquire(1) {
		return func() { sem.Release(1) }, nil
	}

	waitCtx := ctx
	if maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Busy("query", tenant, errs.ErrRebuilding)
		}
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
