// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest rebuilds a tenant's vector store from its source PDFs.
//
// A relearn never edits a live store in place. The new store is built in a
// staging directory, verified, and swapped into place; the previous store
// survives any failure before the swap.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leseb/docqa/pkg/chunker"
	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/embedding"
	"github.com/leseb/docqa/pkg/history"
	"github.com/leseb/docqa/pkg/lifecycle"
	"github.com/leseb/docqa/pkg/loader"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/retry"
	"github.com/leseb/docqa/pkg/sources"
	"github.com/leseb/docqa/pkg/vectorstore"
)

// Policy decides what a relearn does when another one is running for the
// same tenant.
type Policy string

const (
	PolicyWait   Policy = "wait"
	PolicyReject Policy = "reject"
)

const (
	DefaultMaxChunks     = 5000
	DefaultBuildAttempts = 3
	DefaultBuildDelay    = 200 * time.Millisecond
	DefaultWorkers       = 4
)

// Config tunes a Pipeline. Zero values take the defaults above.
type Config struct {
	Policy        Policy
	MaxChunks     int
	BuildAttempts int
	BuildDelay    time.Duration
	BatchSize     int
	Workers       int
	Splitter      chunker.Splitter
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyWait
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultMaxChunks
	}
	if c.BuildAttempts <= 0 {
		c.BuildAttempts = DefaultBuildAttempts
	}
	if c.BuildDelay <= 0 {
		c.BuildDelay = DefaultBuildDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = embedding.DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Splitter == nil {
		p, _ := chunker.ProfileFor("")
		c.Splitter = chunker.NewFixed(p)
	}
	return c
}

// Failure is a source document that could not be loaded or chunked.
type Failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report summarizes one ingestion.
type Report struct {
	RunID     string           `json:"run_id"`
	Tenant    string           `json:"tenant"`
	Documents int              `json:"documents"`
	Failures  []Failure        `json:"failures,omitempty"`
	Chunks    int              `json:"chunks"`
	Truncated bool             `json:"truncated"`
	Dropped   int              `json:"dropped"`
	Attempts  int              `json:"attempts"`
	Meta      vectorstore.Meta `json:"-"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Pipeline runs destroy-then-rebuild ingestions.
type Pipeline struct {
	manager  *lifecycle.Manager
	embedder embedding.Provider
	cfg      Config
	log      *logging.Logger
}

// New creates a Pipeline. embedder must be the same instance that serves
// queries.
func New(manager *lifecycle.Manager, embedder embedding.Provider, cfg Config, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		manager:  manager,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		log:      logging.OrDiscard(logger).Component("ingest"),
	}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Ingest rebuilds the tenant's store from its current PDFs.
func (p *Pipeline) Ingest(ctx context.Context, tn string) (*Report, error) {
	return p.IngestWithProgress(ctx, tn, nil)
}

// IngestWithProgress is Ingest with stage events delivered to progress.
func (p *Pipeline) IngestWithProgress(ctx context.Context, tn string, progress ProgressFunc) (rep *Report, err error) {
	if err := p.manager.CheckTenant(ctx, "ingest", tn); err != nil {
		return nil, err
	}
	release, err := p.manager.Gate().Relearn(ctx, tn, p.cfg.Policy != PolicyReject)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	rep = &Report{RunID: uuid.NewString(), Tenant: tn}
	emit := progress.synced(tn)
	log := p.log.Tenant(tn)
	defer func() {
		rep.Duration = time.Since(started)
		p.record(ctx, rep, started, err)
		if err != nil {
			log.Error("ingestion failed", "run_id", rep.RunID, "error", err)
		}
	}()

	docs, err := p.manager.PDFs(ctx, tn)
	if err != nil {
		return rep, err
	}
	if len(docs) == 0 {
		return rep, errs.Input("ingest", tn, errs.ErrNoDocuments)
	}
	rep.Documents = len(docs)

	chunks, err := p.load(ctx, tn, docs, rep, emit)
	if err != nil {
		return rep, err
	}
	if len(chunks) == 0 {
		return rep, errs.Input("ingest", tn, fmt.Errorf("%w from %d document(s), %d failed",
			errs.ErrNoChunks, len(docs), len(rep.Failures)))
	}
	if len(chunks) > p.cfg.MaxChunks {
		rep.Truncated = true
		rep.Dropped = len(chunks) - p.cfg.MaxChunks
		chunks = chunks[:p.cfg.MaxChunks]
		log.Warn("chunk limit reached, dropping the tail", "limit", p.cfg.MaxChunks, "dropped", rep.Dropped)
	}
	rep.Chunks = len(chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	emit(Event{Stage: StageEmbedding, Total: len(texts)})
	vectors, err := embedding.EmbedAll(ctx, p.embedder, texts, p.cfg.BatchSize, func(done, total int) {
		emit(Event{Stage: StageEmbedding, Done: done, Total: total})
	})
	if err != nil {
		if ctx.Err() != nil {
			return rep, err
		}
		return rep, errs.E(errs.ErrExternal, "embed", tn, err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{Chunk: c, Vector: vectors[i]}
	}
	meta := vectorstore.Meta{
		Tenant:     tn,
		Embedder:   embedding.Fingerprint(p.embedder),
		Dimensions: p.embedder.Dimensions(),
	}

	// Queries keep reading the previous store while embedding runs; only
	// the build and swap exclude them.
	releaseStore, err := p.manager.Gate().Write(ctx, tn)
	if err != nil {
		return rep, err
	}
	defer releaseStore()
	reg := p.manager.Registry()
	reg.Invalidate(tn)
	defer reg.Invalidate(tn)

	built, err := p.buildAndSwap(ctx, tn, meta, records, rep, emit)
	if err != nil {
		if ctx.Err() != nil {
			return rep, err
		}
		return rep, errs.Corrupted("ingest", tn, err)
	}
	rep.Meta = built

	emit(Event{Stage: StageDone, Done: rep.Chunks, Total: rep.Chunks})
	log.Info("ingestion finished",
		"run_id", rep.RunID,
		"documents", rep.Documents,
		"failed", len(rep.Failures),
		"chunks", rep.Chunks,
		"attempts", rep.Attempts,
		"duration", time.Since(started))
	return rep, nil
}

type loaded struct {
	chunks []chunker.Chunk
	err    error
}

// load reads, parses and chunks every document with bounded concurrency.
// Chunks keep document enumeration order.
func (p *Pipeline) load(ctx context.Context, tn string, docs []sources.Document, rep *Report, emit ProgressFunc) ([]chunker.Chunk, error) {
	emit(Event{Stage: StageLoading, Total: len(docs)})

	results := make([]loaded, len(docs))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, d := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := p.loadOne(gctx, tn, d.Name)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = loaded{chunks: chunks, err: err}

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			emit(Event{Stage: StageLoaded, Source: d.Name, Done: n, Total: len(docs)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []chunker.Chunk
	for i, r := range results {
		if r.err != nil {
			rep.Failures = append(rep.Failures, Failure{Source: docs[i].Name, Error: r.err.Error()})
			p.log.Warn("skipping document", "tenant", tn, "source", docs[i].Name, "error", r.err)
			continue
		}
		out = append(out, r.chunks...)
	}
	return out, nil
}

func (p *Pipeline) loadOne(ctx context.Context, tn, name string) ([]chunker.Chunk, error) {
	content, err := p.manager.Sources().Get(ctx, tn, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	pages, err := loader.LoadPDF(ctx, name, content)
	if err != nil {
		return nil, err
	}
	return chunker.ChunkDocument(p.cfg.Splitter, tn, name, pages)
}

// buildAndSwap builds the store in a fresh staging directory, verifies it
// and moves it into place, retrying the whole sequence with backoff.
func (p *Pipeline) buildAndSwap(ctx context.Context, tn string, meta vectorstore.Meta, records []vectorstore.Record, rep *Report, emit ProgressFunc) (vectorstore.Meta, error) {
	layout := p.manager.Layout()
	policy := retry.Policy{
		MaxAttempts: p.cfg.BuildAttempts,
		BaseDelay:   p.cfg.BuildDelay,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			p.log.Warn("store build failed, retrying", "tenant", tn, "attempt", attempt, "wait", wait, "error", err)
		},
	}
	return retry.Value(ctx, policy, func(ctx context.Context, attempt int) (vectorstore.Meta, error) {
		rep.Attempts = attempt
		staging := layout.StagingDir(tn, uuid.NewString())
		discard := func() {
			if err := vectorstore.Purge(staging); err != nil {
				p.log.Warn("failed to remove staging dir", "dir", staging, "error", err)
			}
		}

		emit(Event{Stage: StageBuilding, Done: attempt, Total: p.cfg.BuildAttempts})
		built, err := vectorstore.Build(ctx, staging, meta, records)
		if err != nil {
			discard()
			return vectorstore.Meta{}, err
		}

		emit(Event{Stage: StageVerifying, Done: attempt, Total: p.cfg.BuildAttempts})
		if err := verify(ctx, staging, built, records); err != nil {
			discard()
			return vectorstore.Meta{}, fmt.Errorf("verify: %w", err)
		}
		if err := ctx.Err(); err != nil {
			discard()
			return vectorstore.Meta{}, err
		}
		if err := p.swap(tn, staging); err != nil {
			discard()
			return vectorstore.Meta{}, err
		}
		return built, nil
	})
}

// verify opens the built store and checks that a search finds the first
// record.
func verify(ctx context.Context, dir string, want vectorstore.Meta, records []vectorstore.Record) error {
	store, err := vectorstore.Open(ctx, dir)
	if err != nil {
		return err
	}
	if store.Len() != len(records) {
		return fmt.Errorf("%w: store holds %d chunks, expected %d", vectorstore.ErrMalformed, store.Len(), len(records))
	}
	if got := store.Meta(); got.Embedder != want.Embedder || got.Dimensions != want.Dimensions {
		return fmt.Errorf("%w: meta %s/%d, expected %s/%d", vectorstore.ErrMalformed,
			got.Embedder, got.Dimensions, want.Embedder, want.Dimensions)
	}
	results, err := store.Search(records[0].Vector, 1)
	if err != nil {
		return err
	}
	if len(results) != 1 {
		return fmt.Errorf("%w: verification search returned %d results", vectorstore.ErrMalformed, len(results))
	}
	return nil
}

// swap moves staging into the live store location. The previous store goes
// to the trash first and is restored if the final rename fails.
func (p *Pipeline) swap(tn, staging string) error {
	layout := p.manager.Layout()
	live := layout.StoreDir(tn)

	var trash string
	switch _, err := os.Stat(live); {
	case err == nil:
		if err := os.MkdirAll(layout.TrashRoot(), 0o755); err != nil {
			return fmt.Errorf("create trash dir: %w", err)
		}
		trash = layout.TrashDir(tn, uuid.NewString())
		if err := os.Rename(live, trash); err != nil {
			return fmt.Errorf("retire live store: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat live store: %w", err)
	}

	if err := os.Rename(staging, live); err != nil {
		if trash != "" {
			if rerr := os.Rename(trash, live); rerr != nil {
				p.log.Error("failed to restore previous store", "tenant", tn, "error", rerr)
			}
		}
		return fmt.Errorf("swap store into place: %w", err)
	}
	if trash != "" {
		if err := vectorstore.Purge(trash); err != nil {
			p.log.Warn("failed to purge retired store", "tenant", tn, "dir", trash, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, rep *Report, started time.Time, runErr error) {
	hist := p.manager.History()
	if hist == nil {
		return
	}
	run := &history.Run{
		ID:         rep.RunID,
		Tenant:     rep.Tenant,
		Status:     history.StatusSucceeded,
		Documents:  rep.Documents,
		Chunks:     rep.Chunks,
		Dropped:    rep.Dropped,
		Attempts:   rep.Attempts,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	for _, f := range rep.Failures {
		run.FailedFiles = append(run.FailedFiles, f.Source)
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		run.Status = history.StatusCancelled
		run.Error = runErr.Error()
	default:
		run.Status = history.StatusFailed
		run.Error = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := hist.Record(ctx, run); err != nil {
		p.log.Warn("failed to record ingestion run", "tenant", rep.Tenant, "run_id", rep.RunID, "error", err)
	}
}
