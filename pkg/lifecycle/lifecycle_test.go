// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/chunker"
	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/history"
	histmem "github.com/leseb/docqa/pkg/history/memory"
	"github.com/leseb/docqa/pkg/sources/filesystem"
	"github.com/leseb/docqa/pkg/tenant"
	"github.com/leseb/docqa/pkg/vectorstore"
)

const testFingerprint = "hashing/3"

type fixture struct {
	layout  tenant.Layout
	manager *Manager
	history *histmem.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout := tenant.Layout{Root: t.TempDir()}
	src, err := filesystem.New(layout.SourcesRoot())
	require.NoError(t, err)
	hist := histmem.New()
	reg := NewRegistry(layout, RegistryOptions{Fingerprint: testFingerprint, OpenAttempts: 2, OpenDelay: time.Millisecond})
	m := NewManager(layout, src, hist, reg, NewGate(), Options{BusyWait: 50 * time.Millisecond})
	return &fixture{layout: layout, manager: m, history: hist}
}

func (f *fixture) tenantWithPDF(t *testing.T, tn string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.manager.CreateTenant(ctx, tn))
	require.NoError(t, f.manager.PutDocument(ctx, tn, "policy.pdf", []byte("%PDF-1.4 stub")))
}

func (f *fixture) buildStore(t *testing.T, tn string, fingerprint string) {
	t.Helper()
	_, err := vectorstore.Build(context.Background(), f.layout.StoreDir(tn),
		vectorstore.Meta{Tenant: tn, Embedder: fingerprint},
		[]vectorstore.Record{{
			Chunk:  chunker.Chunk{ID: "policy.pdf_chunk_0", Tenant: tn, Source: "policy.pdf", Page: 1, Text: "collision"},
			Vector: []float32{1, 0, 0},
		}})
	require.NoError(t, err)
}

func (f *fixture) corruptStore(t *testing.T, tn string) {
	t.Helper()
	dir := f.layout.StoreDir(tn)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, vectorstore.FileName), []byte("partial write, no schema here at all"), 0o644))
}

func TestState_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.manager.State(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, st, "unknown tenant")

	require.NoError(t, f.manager.CreateTenant(ctx, "Acme"))
	st, _ = f.manager.State(ctx, "Acme")
	assert.Equal(t, StateAbsent, st, "tenant without documents")

	require.NoError(t, f.manager.PutDocument(ctx, "Acme", "policy.pdf", []byte("%PDF")))
	st, _ = f.manager.State(ctx, "Acme")
	assert.Equal(t, StateUnlearned, st)

	f.buildStore(t, "Acme", testFingerprint)
	st, _ = f.manager.State(ctx, "Acme")
	assert.Equal(t, StateReady, st)

	require.NoError(t, f.manager.DeleteStore(ctx, "Acme"))
	st, _ = f.manager.State(ctx, "Acme")
	assert.Equal(t, StateUnlearned, st, "delete store keeps documents")

	f.corruptStore(t, "Acme")
	st, _ = f.manager.State(ctx, "Acme")
	assert.Equal(t, StateCorrupted, st)

	require.NoError(t, f.manager.DeleteTenant(ctx, "Acme"))
	st, _ = f.manager.State(ctx, "Acme")
	assert.Equal(t, StateAbsent, st)

	_, err = f.manager.State(ctx, "../etc")
	assert.ErrorIs(t, err, errs.ErrInput)
}

func TestAcquire_CachesHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")
	f.buildStore(t, "Acme", testFingerprint)

	h1, err := f.manager.Acquire(ctx, "Acme")
	require.NoError(t, err)
	h2, err := f.manager.Acquire(ctx, "Acme")
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, f.manager.Registry().Opens())
	assert.Equal(t, 1, h1.Store.Len())
}

func TestAcquire_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Acquire(ctx, "Nobody")
	assert.ErrorIs(t, err, errs.ErrInput)
	assert.ErrorIs(t, err, errs.ErrTenantUnknown)

	f.tenantWithPDF(t, "Acme")
	_, err = f.manager.Acquire(ctx, "Acme")
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestAcquire_FingerprintMismatchIsNotReady(t *testing.T) {
	f := newFixture(t)
	f.tenantWithPDF(t, "Acme")
	f.buildStore(t, "Acme", "openai/text-embedding-3-small/1536")

	_, err := f.manager.Acquire(context.Background(), "Acme")
	assert.ErrorIs(t, err, errs.ErrNotReady)
	assert.ErrorContains(t, err, "re-run ingestion")
}

func TestDeleteStore_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")
	f.buildStore(t, "Acme", testFingerprint)

	_, err := f.manager.Acquire(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, 1, f.manager.Registry().Len())

	require.NoError(t, f.manager.DeleteStore(ctx, "Acme"))
	assert.Equal(t, 0, f.manager.Registry().Len())

	_, err = f.manager.Acquire(ctx, "Acme")
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestAcquire_CorruptionIsRecovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")
	f.corruptStore(t, "Acme")

	_, err := f.manager.Acquire(ctx, "Acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCorrupted)

	dir := f.layout.StoreDir("Acme")
	info, statErr := os.Stat(dir)
	require.NoError(t, statErr, "store dir is recreated")
	assert.True(t, info.IsDir())
	assert.False(t, vectorstore.Exists(dir))

	st, _ := f.manager.State(ctx, "Acme")
	assert.Equal(t, StateUnlearned, st)

	_, err = f.manager.Acquire(ctx, "Acme")
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestRecover_WaitsForDelay(t *testing.T) {
	f := newFixture(t)
	f.manager.opts.RecoverDelay = 30 * time.Millisecond
	f.tenantWithPDF(t, "Acme")
	f.corruptStore(t, "Acme")

	start := time.Now()
	require.NoError(t, f.manager.Recover(context.Background(), "Acme"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.corruptStore(t, "Acme")
	assert.Error(t, f.manager.Recover(ctx, "Acme"))
}

func TestAcquire_PersistentOpenFailureIsRecovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")

	// A regular file where the store directory belongs fails every open
	// without looking like sqlite corruption.
	dir := f.layout.StoreDir("Acme")
	require.NoError(t, os.MkdirAll(filepath.Dir(dir), 0o755))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o644))
	_, openErr := vectorstore.Open(ctx, dir)
	require.Error(t, openErr)
	require.NotErrorIs(t, openErr, vectorstore.ErrNoStore)
	require.False(t, vectorstore.IsCorruption(openErr))

	_, err := f.manager.Acquire(ctx, "Acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCorrupted)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir(), "store dir is recreated")

	_, err = f.manager.Acquire(ctx, "Acme")
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestAcquire_KeepsStoreRebuiltBeforeRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")
	f.corruptStore(t, "Acme")

	var hooked int
	f.manager.beforeRecover = func(tn string) {
		hooked++
		require.NoError(t, vectorstore.Purge(f.layout.StoreDir(tn)))
		f.buildStore(t, tn, testFingerprint)
	}

	h, err := f.manager.Acquire(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, 1, hooked)
	assert.Equal(t, 1, h.Store.Len())
	assert.True(t, vectorstore.Exists(f.layout.StoreDir("Acme")), "rebuilt store survives")

	st, _ := f.manager.State(ctx, "Acme")
	assert.Equal(t, StateReady, st)
}

func TestDeleteTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")
	f.tenantWithPDF(t, "Globex")
	f.buildStore(t, "Acme", testFingerprint)
	f.buildStore(t, "Globex", testFingerprint)

	require.NoError(t, os.MkdirAll(f.layout.LogosRoot(), 0o755))
	require.NoError(t, os.WriteFile(f.layout.Logo("Acme"), []byte("png"), 0o644))
	require.NoError(t, f.history.Record(ctx, &history.Run{ID: "r1", Tenant: "Acme", Status: history.StatusSucceeded}))
	leftover := f.layout.StagingDir("Acme", "0b6f3a43-8f5e-4c3c-9a53-0f2b3d0f1a11")
	require.NoError(t, os.MkdirAll(leftover, 0o755))

	_, err := f.manager.Acquire(ctx, "Acme")
	require.NoError(t, err)

	require.NoError(t, f.manager.DeleteTenant(ctx, "Acme"))

	_, err = f.manager.Acquire(ctx, "Acme")
	assert.ErrorIs(t, err, errs.ErrTenantUnknown)
	for _, p := range []string{f.layout.StoreDir("Acme"), f.layout.SourceDir("Acme"), f.layout.Logo("Acme"), leftover} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should be gone", p)
	}
	runs, _ := f.history.List(ctx, "Acme", 0)
	assert.Empty(t, runs)

	_, err = f.manager.Acquire(ctx, "Globex")
	assert.NoError(t, err, "other tenants are untouched")

	assert.ErrorIs(t, f.manager.DeleteTenant(ctx, "Acme"), errs.ErrTenantUnknown)
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.CreateTenant(ctx, "Acme"))
	err := f.manager.CreateTenant(ctx, "Acme")
	assert.ErrorIs(t, err, errs.ErrInput)
	assert.ErrorIs(t, err, errs.ErrTenantExists)

	assert.ErrorIs(t, f.manager.CreateTenant(ctx, ".staging"), errs.ErrInvalidTenant)
}

func TestCreateTenant_RemovesLeftoverStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.buildStore(t, "Ghost", testFingerprint)
	require.True(t, vectorstore.Exists(f.layout.StoreDir("Ghost")))

	require.NoError(t, f.manager.CreateTenant(ctx, "Ghost"))
	assert.False(t, vectorstore.Exists(f.layout.StoreDir("Ghost")))
	st, err := f.manager.State(ctx, "Ghost")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, st)

	require.NoError(t, f.manager.PutDocument(ctx, "Ghost", "policy.pdf", []byte("%PDF")))
	_, err = f.manager.Acquire(ctx, "Ghost")
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenantWithPDF(t, "Acme")
	f.buildStore(t, "Acme", testFingerprint)

	err := f.manager.PutDocument(ctx, "Acme", "notes.txt", []byte("x"))
	assert.ErrorIs(t, err, errs.ErrInput)
	require.NoError(t, f.manager.PutDocument(ctx, "Acme", "second.pdf", []byte("%PDF")))

	pdfs, err := f.manager.PDFs(ctx, "Acme")
	require.NoError(t, err)
	assert.Len(t, pdfs, 2)

	require.NoError(t, f.manager.DeleteDocument(ctx, "Acme", "second.pdf"))
	assert.ErrorIs(t, f.manager.DeleteDocument(ctx, "Acme", "second.pdf"), errs.ErrDocumentNotFound)

	n, err := f.manager.DeleteDocuments(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := f.manager.State(ctx, "Acme")
	assert.Equal(t, StateReady, st, "deleting documents keeps the store")
}

func TestClearAllStoresAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tn := range []string{"Acme", "Globex"} {
		f.tenantWithPDF(t, tn)
		f.buildStore(t, tn, testFingerprint)
		_, err := f.manager.Acquire(ctx, tn)
		require.NoError(t, err)
	}
	f.corruptStore(t, "Orphan")

	n, err := f.manager.ClearAllStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, f.manager.Registry().Len())

	infos, err := f.manager.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, StateUnlearned, info.State, info.Name)
		assert.Equal(t, 1, info.Documents)
	}

	require.NoError(t, f.manager.Reset(ctx))
	infos, err = f.manager.ListTenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestClearAllStoresAndReset_WaitForRelearn(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, m *Manager) error
	}{
		{"clear stores", func(ctx context.Context, m *Manager) error {
			_, err := m.ClearAllStores(ctx)
			return err
		}},
		{"reset", func(ctx context.Context, m *Manager) error {
			return m.Reset(ctx)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.tenantWithPDF(t, "Acme")

			release, err := f.manager.Gate().Relearn(ctx, "Acme", false)
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() { done <- tt.run(ctx, f.manager) }()

			select {
			case err := <-done:
				t.Fatalf("returned while a relearn was running: %v", err)
			case <-time.After(50 * time.Millisecond):
			}

			// The relearn publishes its store just before it finishes.
			f.buildStore(t, "Acme", testFingerprint)
			release()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("did not return after the relearn finished")
			}
			assert.False(t, vectorstore.Exists(f.layout.StoreDir("Acme")))
			_, err = f.manager.Gate().Relearn(ctx, "Acme", false)
			require.NoError(t, err, "locks are released afterwards")
		})
	}
}

func TestCleanupStaging(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.layout.StagingDir("Acme", "x"), 0o755))
	require.NoError(t, os.MkdirAll(f.layout.TrashDir("Acme", "y"), 0o755))

	require.NoError(t, f.manager.CleanupStaging())
	for _, p := range []string{f.layout.StagingRoot(), f.layout.TrashRoot()} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestGate_RelearnReject(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	release, err := g.Relearn(ctx, "Acme", false)
	require.NoError(t, err)

	_, err = g.Relearn(ctx, "Acme", false)
	assert.ErrorIs(t, err, errs.ErrRelearnInProgress)
	assert.ErrorIs(t, err, errs.ErrBusy)

	other, err := g.Relearn(ctx, "Globex", false)
	require.NoError(t, err, "tenants are independent")
	other()

	release()
	again, err := g.Relearn(ctx, "Acme", false)
	require.NoError(t, err)
	again()
}

func TestGate_RelearnWait(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	release, err := g.Relearn(ctx, "Acme", true)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := g.Relearn(ctx, "Acme", true)
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second relearn should wait")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second relearn never acquired the lock")
	}
}

func TestGate_ReadDuringWrite(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	releaseW, err := g.Write(ctx, "Acme")
	require.NoError(t, err)

	_, err = g.Read(ctx, "Acme", 10*time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrRebuilding)

	releaseOther, err := g.Read(ctx, "Globex", 10*time.Millisecond)
	require.NoError(t, err)
	releaseOther()

	done := make(chan error, 1)
	go func() {
		r, err := g.Read(ctx, "Acme", time.Second)
		if err == nil {
			r()
		}
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	releaseW()
	assert.NoError(t, <-done)
}

func TestGate_ReadersShare(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	var releases []func()
	for range 5 {
		r, err := g.Read(ctx, "Acme", 10*time.Millisecond)
		require.NoError(t, err)
		releases = append(releases, r)
	}

	wctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := g.Write(wctx, "Acme")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "writer waits for readers")

	for _, r := range releases {
		r()
	}
	w, err := g.Write(ctx, "Acme")
	require.NoError(t, err)
	w()
}

func TestRegistry_ConcurrentOpensCollapse(t *testing.T) {
	f := newFixture(t)
	f.tenantWithPDF(t, "Acme")
	f.buildStore(t, "Acme", testFingerprint)
	reg := f.manager.Registry()

	var wg sync.WaitGroup
	handles := make([]*Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := reg.GetOrOpen(context.Background(), "Acme")
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Opens())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestRegistry_Invalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tn := range []string{"Acme", "Globex"} {
		f.tenantWithPDF(t, tn)
		f.buildStore(t, tn, testFingerprint)
	}
	reg := f.manager.Registry()

	h1, err := reg.GetOrOpen(ctx, "Acme")
	require.NoError(t, err)
	_, err = reg.GetOrOpen(ctx, "Globex")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	reg.Invalidate("Acme")
	_, ok := reg.Peek("Acme")
	assert.False(t, ok)
	_, ok = reg.Peek("Globex")
	assert.True(t, ok, "invalidation is per tenant")

	h2, err := reg.GetOrOpen(ctx, "Acme")
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.Greater(t, h2.Generation, h1.Generation)

	reg.InvalidateAll()
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 3, reg.Opens())
}
