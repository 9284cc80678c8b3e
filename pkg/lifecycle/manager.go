// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle owns the per-tenant store state: the process-wide handle
// registry, per-tenant locking, destructive operations and recovery of
// corrupted stores.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/history"
	"github.com/leseb/docqa/pkg/loader"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/sources"
	"github.com/leseb/docqa/pkg/tenant"
	"github.com/leseb/docqa/pkg/vectorstore"
)

// State of a tenant's store.
type State string

const (
	StateAbsent    State = "absent"
	StateUnlearned State = "unlearned"
	StateReady     State = "ready"
	StateCorrupted State = "corrupted"
)

// DefaultRecoverDelay is the pause between purging a corrupted store and
// recreating its directory.
const DefaultRecoverDelay = 500 * time.Millisecond

// Options configures a Manager.
type Options struct {
	RecoverDelay time.Duration

	// BusyWait bounds how long a query waits for a rebuild to finish.
	BusyWait time.Duration

	Logger *logging.Logger
}

// Manager governs creation, caching, invalidation and destruction of
// tenant stores.
type Manager struct {
	layout   tenant.Layout
	sources  sources.Store
	history  history.Store
	registry *Registry
	gate     *Gate
	opts     Options
	log      *logging.Logger

	// beforeRecover runs between detecting a broken store and taking the
	// write lock to recover it. Tests use it to interleave a rebuild.
	beforeRecover func(tn string)
}

// NewManager wires a Manager. history may be nil.
func NewManager(layout tenant.Layout, src sources.Store, hist history.Store, reg *Registry, gate *Gate, opts Options) *Manager {
	if opts.RecoverDelay < 0 {
		opts.RecoverDelay = 0
	}
	return &Manager{
		layout:   layout,
		sources:  src,
		history:  hist,
		registry: reg,
		gate:     gate,
		opts:     opts,
		log:      logging.OrDiscard(opts.Logger).Component("lifecycle"),
	}
}

// Layout returns the on-disk layout.
func (m *Manager) Layout() tenant.Layout { return m.layout }

// Registry returns the handle registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Gate returns the per-tenant lock set.
func (m *Manager) Gate() *Gate { return m.gate }

// Sources returns the source document store.
func (m *Manager) Sources() sources.Store { return m.sources }

// History returns the ingestion history store, or nil.
func (m *Manager) History() history.Store { return m.history }

// CheckTenant validates the name and requires the tenant to exist.
func (m *Manager) CheckTenant(ctx context.Context, op, tn string) error {
	if err := tenant.Validate(tn); err != nil {
		return errs.Input(op, tn, err)
	}
	ok, err := m.sources.TenantExists(ctx, tn)
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, tn, err)
	}
	if !ok {
		return errs.Input(op, tn, errs.ErrTenantUnknown)
	}
	return nil
}

// PDFs returns the tenant's PDF source documents in enumeration order.
func (m *Manager) PDFs(ctx context.Context, tn string) ([]sources.Document, error) {
	docs, err := m.sources.List(ctx, tn)
	if err != nil {
		if errors.Is(err, errs.ErrTenantUnknown) {
			return nil, errs.Input("list documents", tn, err)
		}
		return nil, err
	}
	pdfs := docs[:0]
	for _, d := range docs {
		if loader.IsPDF(d.Name) {
			pdfs = append(pdfs, d)
		}
	}
	return pdfs, nil
}

// State reports the tenant's store state. Opening a store as a side effect
// caches its handle.
func (m *Manager) State(ctx context.Context, tn string) (State, error) {
	if err := tenant.Validate(tn); err != nil {
		return "", errs.Input("state", tn, err)
	}
	ok, err := m.sources.TenantExists(ctx, tn)
	if err != nil {
		return "", err
	}
	if !ok {
		return StateAbsent, nil
	}

	if vectorstore.Exists(m.layout.StoreDir(tn)) {
		_, err := m.registry.GetOrOpen(ctx, tn)
		switch {
		case err == nil:
			return StateReady, nil
		case errors.Is(err, errs.ErrNotReady):
			return StateUnlearned, nil
		case vectorstore.IsCorruption(err):
			return StateCorrupted, nil
		default:
			return "", err
		}
	}

	pdfs, err := m.PDFs(ctx, tn)
	if err != nil {
		return "", err
	}
	if len(pdfs) == 0 {
		return StateAbsent, nil
	}
	return StateUnlearned, nil
}

// TenantInfo summarises one tenant.
type TenantInfo struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Documents int    `json:"documents"`
}

// ListTenants returns every tenant with its state and PDF count.
func (m *Manager) ListTenants(ctx context.Context) ([]TenantInfo, error) {
	names, err := m.sources.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TenantInfo, 0, len(names))
	for _, tn := range names {
		if tenant.Validate(tn) != nil {
			continue
		}
		st, err := m.State(ctx, tn)
		if err != nil {
			return nil, err
		}
		pdfs, err := m.PDFs(ctx, tn)
		if err != nil {
			return nil, err
		}
		out = append(out, TenantInfo{Name: tn, State: st, Documents: len(pdfs)})
	}
	return out, nil
}

// Acquire returns an open handle for querying tenant. It waits at most
// BusyWait for a rebuild in progress. A store that still fails to open once
// the registry's bounded retries are spent is recovered and the call fails
// with errs.ErrCorrupted; the caller has to re-run ingestion.
func (m *Manager) Acquire(ctx context.Context, tn string) (*Handle, error) {
	if err := m.CheckTenant(ctx, "query", tn); err != nil {
		return nil, err
	}

	h, err := m.open(ctx, tn)
	if err == nil || !m.needsRecovery(ctx, err) {
		return h, err
	}

	m.log.Error("store cannot be opened, recovering", "tenant", tn, "corruption", vectorstore.IsCorruption(err), "error", err)
	if m.beforeRecover != nil {
		m.beforeRecover(tn)
	}
	purged, rerr := m.recoverIfBroken(ctx, tn)
	if rerr != nil {
		return nil, errs.Corrupted("open", tn, errors.Join(err, rerr))
	}
	if !purged {
		// Rebuilt by a relearn in the meantime.
		h, err = m.open(ctx, tn)
		if err == nil || !m.needsRecovery(ctx, err) {
			return h, err
		}
		return nil, errs.E(errs.ErrTransient, "open", tn, err)
	}
	return nil, errs.Corrupted("open", tn, fmt.Errorf("%w; the store was reset, re-run ingestion", err))
}

// open takes the read lock and opens the store through the registry.
func (m *Manager) open(ctx context.Context, tn string) (*Handle, error) {
	release, err := m.gate.Read(ctx, tn, m.opts.BusyWait)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.registry.GetOrOpen(ctx, tn)
}

// needsRecovery reports whether an open error goes down the recovery path:
// corruption, or a failure the registry already retried without success.
func (m *Manager) needsRecovery(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil,
		errors.Is(err, errs.ErrNotReady),
		errors.Is(err, errs.ErrBusy),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// recoverIfBroken takes the write lock and opens the store again. Only a
// store that still fails is purged; one replaced by a relearn since the
// failure was observed is kept.
func (m *Manager) recoverIfBroken(ctx context.Context, tn string) (purged bool, err error) {
	release, err := m.gate.Write(ctx, tn)
	if err != nil {
		return false, err
	}
	defer release()

	_, err = vectorstore.Open(ctx, m.layout.StoreDir(tn))
	if err == nil || errors.Is(err, vectorstore.ErrNoStore) {
		m.registry.Invalidate(tn)
		m.log.Info("store no longer broken, skipping recovery", "tenant", tn)
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return true, m.recoverLocked(ctx, tn)
}

// Recover unconditionally applies the corruption recovery policy under the
// tenant's write lock: invalidate the handle, delete the store file by file,
// wait, then recreate an empty store directory.
func (m *Manager) Recover(ctx context.Context, tn string) error {
	release, err := m.gate.Write(ctx, tn)
	if err != nil {
		return err
	}
	defer release()
	return m.recoverLocked(ctx, tn)
}

func (m *Manager) recoverLocked(ctx context.Context, tn string) error {
	m.registry.Invalidate(tn)
	dir := m.layout.StoreDir(tn)
	if err := vectorstore.Purge(dir); err != nil {
		return errs.Corrupted("recover", tn, err)
	}
	if m.opts.RecoverDelay > 0 {
		select {
		case <-time.After(m.opts.RecoverDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Corrupted("recover", tn, fmt.Errorf("recreate store dir: %w", err))
	}
	m.registry.Invalidate(tn)
	m.log.Info("store recovered", "tenant", tn)
	return nil
}

// CreateTenant creates an empty source set for tenant. Any store directory
// left under the same name is removed, so a new tenant always starts absent.
func (m *Manager) CreateTenant(ctx context.Context, tn string) error {
	if err := tenant.Validate(tn); err != nil {
		return errs.Input("create tenant", tn, err)
	}
	releaseRelearn, err := m.gate.Relearn(ctx, tn, true)
	if err != nil {
		return err
	}
	defer releaseRelearn()
	release, err := m.gate.Write(ctx, tn)
	if err != nil {
		return err
	}
	defer release()

	if err := m.sources.CreateTenant(ctx, tn); err != nil {
		if errors.Is(err, errs.ErrTenantExists) {
			return errs.Input("create tenant", tn, err)
		}
		return err
	}
	m.registry.Invalidate(tn)
	if vectorstore.Exists(m.layout.StoreDir(tn)) {
		m.log.Warn("removing leftover store for new tenant", "tenant", tn)
	}
	if err := vectorstore.Purge(m.layout.StoreDir(tn)); err != nil {
		return errs.Corrupted("create tenant", tn, err)
	}
	if err := m.purgeLeftovers(tn); err != nil {
		m.log.Warn("failed to remove staging leftovers", "tenant", tn, "error", err)
	}
	m.log.Info("tenant created", "tenant", tn)
	return nil
}

// DeleteTenant removes the tenant's sources, store, logo and history.
func (m *Manager) DeleteTenant(ctx context.Context, tn string) error {
	if err := m.CheckTenant(ctx, "delete tenant", tn); err != nil {
		return err
	}
	releaseRelearn, err := m.gate.Relearn(ctx, tn, true)
	if err != nil {
		return err
	}
	defer releaseRelearn()
	release, err := m.gate.Write(ctx, tn)
	if err != nil {
		return err
	}
	defer release()

	m.registry.Invalidate(tn)
	if err := vectorstore.Purge(m.layout.StoreDir(tn)); err != nil {
		return errs.Corrupted("delete tenant", tn, err)
	}
	if err := m.purgeLeftovers(tn); err != nil {
		m.log.Warn("failed to remove staging leftovers", "tenant", tn, "error", err)
	}
	if err := m.sources.DeleteTenant(ctx, tn); err != nil && !errors.Is(err, errs.ErrTenantUnknown) {
		return fmt.Errorf("delete tenant %q sources: %w", tn, err)
	}
	if err := os.Remove(m.layout.Logo(tn)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("failed to remove logo", "tenant", tn, "error", err)
	}
	if m.history != nil {
		if err := m.history.DeleteTenant(ctx, tn); err != nil {
			m.log.Warn("failed to delete history", "tenant", tn, "error", err)
		}
	}
	m.registry.Invalidate(tn)
	m.log.Info("tenant deleted", "tenant", tn)
	return nil
}

// DeleteStore removes the tenant's store and keeps its documents.
func (m *Manager) DeleteStore(ctx context.Context, tn string) error {
	if err := m.CheckTenant(ctx, "delete store", tn); err != nil {
		return err
	}
	release, err := m.gate.Write(ctx, tn)
	if err != nil {
		return err
	}
	defer release()

	m.registry.Invalidate(tn)
	if err := vectorstore.Purge(m.layout.StoreDir(tn)); err != nil {
		return errs.Corrupted("delete store", tn, err)
	}
	m.registry.Invalidate(tn)
	m.log.Info("store deleted", "tenant", tn)
	return nil
}

// PutDocument stores a document for tenant. Ingestion picks it up on the
// next relearn.
func (m *Manager) PutDocument(ctx context.Context, tn, name string, content []byte) error {
	if err := m.CheckTenant(ctx, "upload", tn); err != nil {
		return err
	}
	if err := sources.ValidateName(name); err != nil {
		return errs.Input("upload", tn, err)
	}
	if !loader.IsPDF(name) {
		return errs.Input("upload", tn, fmt.Errorf("%s is not a PDF", name))
	}
	release, err := m.gate.Relearn(ctx, tn, true)
	if err != nil {
		return err
	}
	defer release()
	return m.sources.Put(ctx, tn, name, content)
}

// DeleteDocuments removes every document of tenant and keeps its store.
func (m *Manager) DeleteDocuments(ctx context.Context, tn string) (int, error) {
	if err := m.CheckTenant(ctx, "delete documents", tn); err != nil {
		return 0, err
	}
	release, err := m.gate.Relearn(ctx, tn, true)
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := m.sources.DeleteAll(ctx, tn)
	m.registry.Invalidate(tn)
	if err != nil {
		return n, err
	}
	m.log.Info("documents deleted", "tenant", tn, "count", n)
	return n, nil
}

// DeleteDocument removes one document of tenant.
func (m *Manager) DeleteDocument(ctx context.Context, tn, name string) error {
	if err := m.CheckTenant(ctx, "delete document", tn); err != nil {
		return err
	}
	release, err := m.gate.Relearn(ctx, tn, true)
	if err != nil {
		return err
	}
	defer release()

	err = m.sources.Delete(ctx, tn, name)
	m.registry.Invalidate(tn)
	if errors.Is(err, errs.ErrDocumentNotFound) {
		return errs.Input("delete document", tn, err)
	}
	return err
}

// ClearAllStores removes every tenant store along with staging and trash
// leftovers, and empties the registry. Sources are kept. Relearns in
// progress finish first; none can start until the stores are cleared.
func (m *Manager) ClearAllStores(ctx context.Context) (int, error) {
	names, err := m.knownTenants(ctx)
	if err != nil {
		return 0, err
	}
	unlock, err := m.lockRelearns(ctx, names)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return m.clearStoresLocked(ctx, names)
}

// knownTenants returns, sorted, every tenant with sources or a store
// directory.
func (m *Manager) knownTenants(ctx context.Context) ([]string, error) {
	names := make(map[string]bool)
	entries, err := os.ReadDir(m.layout.StoresRoot())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read stores root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !tenant.IsReserved(e.Name()) {
			names[e.Name()] = true
		}
	}
	tenants, err := m.sources.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	for _, tn := range tenants {
		names[tn] = true
	}
	return slices.Sorted(maps.Keys(names)), nil
}

// lockRelearns takes the relearn lock of every tenant in names, which must
// be sorted, waiting for running relearns to finish.
func (m *Manager) lockRelearns(ctx context.Context, names []string) (unlock func(), err error) {
	releases := make([]func(), 0, len(names))
	unlock = func() {
		for _, release := range slices.Backward(releases) {
			release()
		}
	}
	for _, tn := range names {
		release, err := m.gate.Relearn(ctx, tn, true)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, release)
	}
	return unlock, nil
}

// clearStoresLocked purges the stores of names. Callers hold their relearn
// locks.
func (m *Manager) clearStoresLocked(ctx context.Context, names []string) (int, error) {
	var (
		cleared int
		errList []error
	)
	for _, tn := range names {
		release, err := m.gate.Write(ctx, tn)
		if err != nil {
			return cleared, err
		}
		m.registry.Invalidate(tn)
		existed := vectorstore.Exists(m.layout.StoreDir(tn))
		if err := vectorstore.Purge(m.layout.StoreDir(tn)); err != nil {
			errList = append(errList, errs.Corrupted("clear stores", tn, err))
		} else if existed {
			cleared++
		}
		if err := m.purgeLeftovers(tn); err != nil {
			errList = append(errList, err)
		}
		release()
	}
	m.registry.InvalidateAll()
	m.log.Info("all stores cleared", "count", cleared)
	return cleared, errors.Join(errList...)
}

// purgeLeftovers removes the tenant's staging and trash directories.
// Callers hold the tenant's write lock.
func (m *Manager) purgeLeftovers(tn string) error {
	var errList []error
	for _, root := range []string{m.layout.StagingRoot(), m.layout.TrashRoot()} {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			id, ok := strings.CutPrefix(e.Name(), tn+"-")
			if !ok {
				continue
			}
			if _, err := uuid.Parse(id); err != nil {
				continue
			}
			if err := vectorstore.Purge(filepath.Join(root, e.Name())); err != nil {
				errList = append(errList, err)
			}
		}
	}
	return errors.Join(errList...)
}

// Reset removes every tenant: stores, sources, logos and history. All
// relearn locks are held for the whole reset, so a relearn cannot publish a
// store for a tenant that is being removed.
func (m *Manager) Reset(ctx context.Context) error {
	names, err := m.knownTenants(ctx)
	if err != nil {
		return err
	}
	unlock, err := m.lockRelearns(ctx, names)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := m.clearStoresLocked(ctx, names); err != nil {
		return err
	}
	for _, tn := range names {
		err := m.sources.DeleteTenant(ctx, tn)
		if err != nil && !errors.Is(err, errs.ErrTenantUnknown) {
			return fmt.Errorf("reset tenant %q: %w", tn, err)
		}
	}
	if err := vectorstore.Purge(m.layout.LogosRoot()); err != nil {
		m.log.Warn("failed to remove logos", "error", err)
	}
	if m.history != nil {
		if err := m.history.DeleteAll(ctx); err != nil {
			return fmt.Errorf("reset history: %w", err)
		}
	}
	m.registry.InvalidateAll()
	m.log.Info("reset complete", "tenants", len(names))
	return nil
}

// CleanupStaging removes staging and trash directories left behind by
// interrupted rebuilds. Call it when no ingestion is running.
func (m *Manager) CleanupStaging() error {
	var errList []error
	for _, dir := range []string{m.layout.StagingRoot(), m.layout.TrashRoot()} {
		if err := vectorstore.Purge(dir); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
