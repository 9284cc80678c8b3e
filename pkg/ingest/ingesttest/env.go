// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingesttest wires a complete on-disk environment for tests: tenant
// layout under t.TempDir, filesystem sources, in-memory history, the hashing
// embedder, a lifecycle manager and an ingestion pipeline.
package ingesttest

import (
	"context"
	"testing"
	"time"

	"github.com/leseb/docqa/pkg/embedding"
	histmem "github.com/leseb/docqa/pkg/history/memory"
	"github.com/leseb/docqa/pkg/ingest"
	"github.com/leseb/docqa/pkg/lifecycle"
	"github.com/leseb/docqa/pkg/loader/pdftest"
	"github.com/leseb/docqa/pkg/sources"
	"github.com/leseb/docqa/pkg/sources/filesystem"
	"github.com/leseb/docqa/pkg/tenant"
)

// Options customizes New. Zero values are fine.
type Options struct {
	Embedder embedding.Provider
	Ingest   ingest.Config
	BusyWait time.Duration
	// WrapSources, when set, decorates the source store the manager uses.
	WrapSources func(sources.Store) sources.Store
}

// Env is a ready-to-use environment.
type Env struct {
	Layout   tenant.Layout
	Sources  *filesystem.Store
	History  *histmem.Store
	Embedder embedding.Provider
	Manager  *lifecycle.Manager
	Pipeline *ingest.Pipeline
}

// New builds an Env rooted in a fresh temporary directory.
func New(t testing.TB, opts Options) *Env {
	t.Helper()
	layout := tenant.Layout{Root: t.TempDir()}
	src, err := filesystem.New(layout.SourcesRoot())
	if err != nil {
		t.Fatalf("filesystem sources: %v", err)
	}
	emb := opts.Embedder
	if emb == nil {
		emb = embedding.NewHashing(256)
	}
	if opts.BusyWait == 0 {
		opts.BusyWait = 100 * time.Millisecond
	}
	if opts.Ingest.BuildDelay == 0 {
		opts.Ingest.BuildDelay = time.Millisecond
	}

	hist := histmem.New()
	reg := lifecycle.NewRegistry(layout, lifecycle.RegistryOptions{
		Fingerprint:  embedding.Fingerprint(emb),
		OpenAttempts: 2,
		OpenDelay:    time.Millisecond,
	})
	var managed sources.Store = src
	if opts.WrapSources != nil {
		managed = opts.WrapSources(src)
	}
	m := lifecycle.NewManager(layout, managed, hist, reg, lifecycle.NewGate(), lifecycle.Options{BusyWait: opts.BusyWait})
	return &Env{
		Layout:   layout,
		Sources:  src,
		History:  hist,
		Embedder: emb,
		Manager:  m,
		Pipeline: ingest.New(m, emb, opts.Ingest, nil),
	}
}

// Tenant creates tn, failing the test on error.
func (e *Env) Tenant(t testing.TB, tn string) {
	t.Helper()
	if err := e.Manager.CreateTenant(context.Background(), tn); err != nil {
		t.Fatalf("create tenant %s: %v", tn, err)
	}
}

// PDF uploads a generated PDF with one page per argument.
func (e *Env) PDF(t testing.TB, tn, name string, pages ...string) {
	t.Helper()
	e.Raw(t, tn, name, pdftest.Build(pages...))
}

// Raw uploads arbitrary bytes as a document.
func (e *Env) Raw(t testing.TB, tn, name string, content []byte) {
	t.Helper()
	if err := e.Manager.PutDocument(context.Background(), tn, name, content); err != nil {
		t.Fatalf("upload %s/%s: %v", tn, name, err)
	}
}

// Ingest runs the pipeline and fails the test on error.
func (e *Env) Ingest(t testing.TB, tn string) *ingest.Report {
	t.Helper()
	rep, err := e.Pipeline.Ingest(context.Background(), tn)
	if err != nil {
		t.Fatalf("ingest %s: %v", tn, err)
	}
	return rep
}

// Insurance seeds tenant "Acme" with three one-page policies.
func (e *Env) Insurance(t testing.TB) {
	t.Helper()
	e.Tenant(t, "Acme")
	e.PDF(t, "Acme", "auto.pdf", "Auto policy covers collision up to $50,000.")
	e.PDF(t, "Acme", "home.pdf", "Home policy covers fire damage and theft of belongings.")
	e.PDF(t, "Acme", "life.pdf", "Life policy pays beneficiaries a lump sum.")
}
