// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires configured backends into the services shared by the
// server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/leseb/docqa/pkg/answer"
	"github.com/leseb/docqa/pkg/chunker"
	"github.com/leseb/docqa/pkg/core/config"
	"github.com/leseb/docqa/pkg/embedding"
	"github.com/leseb/docqa/pkg/history"
	"github.com/leseb/docqa/pkg/ingest"
	"github.com/leseb/docqa/pkg/lifecycle"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/retrieval"
	"github.com/leseb/docqa/pkg/sources"
	"github.com/leseb/docqa/pkg/tenant"

	// Backends register themselves with their provider registries.
	_ "github.com/leseb/docqa/pkg/answer/gemini"
	_ "github.com/leseb/docqa/pkg/answer/openai"
	_ "github.com/leseb/docqa/pkg/embedding/ollama"
	_ "github.com/leseb/docqa/pkg/embedding/openai"
	_ "github.com/leseb/docqa/pkg/history/memory"
	_ "github.com/leseb/docqa/pkg/history/postgres"
	_ "github.com/leseb/docqa/pkg/history/sqlite"
	_ "github.com/leseb/docqa/pkg/sources/filesystem"
	_ "github.com/leseb/docqa/pkg/sources/memory"
	_ "github.com/leseb/docqa/pkg/sources/s3"
)

// App holds the wired services. Answer is nil when no completion backend
// is configured.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Embedder  embedding.Provider
	Sources   sources.Store
	History   history.Store
	Manager   *lifecycle.Manager
	Pipeline  *ingest.Pipeline
	Jobs      *ingest.Jobs
	Retrieval *retrieval.Service
	Answer    *answer.Service
}

// New builds every service from cfg. Leftover staging directories from an
// interrupted relearn are removed before it returns.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	logger = logging.OrDiscard(logger)
	a := &App{Config: cfg, Logger: logger}

	var err error
	a.Embedder, err = embedding.Shared(ctx, cfg.Embedding.Provider, cfg.Embedding.Params(), cfg.Embedding.Serialize)
	if err != nil {
		return nil, err
	}
	logger.Info("Initialized embedding provider", "provider", a.Embedder.Name(), "dimensions", a.Embedder.Dimensions())
	if a.Embedder.Name() == "hashing" {
		logger.Warn("Hashing embedder active, retrieval is lexical only; set embedding.provider for semantic search")
	}

	a.Sources, err = sources.Providers.New(ctx, cfg.Sources.Backend, cfg.SourcesParams())
	if err != nil {
		return nil, err
	}
	logger.Info("Initialized sources backend", "backend", cfg.Sources.Backend)

	a.History, err = history.Providers.New(ctx, cfg.History.Backend, cfg.History.Params())
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	logger.Info("Initialized history backend", "backend", cfg.History.Backend)

	profile, err := chunker.ProfileFor(cfg.Chunking.Profile)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	splitter, err := chunker.New(cfg.Chunking.Strategy, profile)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	layout := tenant.Layout{Root: cfg.Data.Root}
	registry := lifecycle.NewRegistry(layout, lifecycle.RegistryOptions{
		Fingerprint:  embedding.Fingerprint(a.Embedder),
		OpenAttempts: cfg.Lifecycle.OpenAttempts,
		OpenDelay:    cfg.Lifecycle.OpenDelay,
		Logger:       logger,
	})
	a.Manager = lifecycle.NewManager(layout, a.Sources, a.History, registry, lifecycle.NewGate(), lifecycle.Options{
		RecoverDelay: cfg.Lifecycle.RecoverDelay,
		BusyWait:     cfg.Retrieval.BusyWait,
		Logger:       logger,
	})
	if err := a.Manager.CleanupStaging(); err != nil {
		logger.Warn("Failed to clean up staging directories", "error", err)
	}

	a.Pipeline = ingest.New(a.Manager, a.Embedder, ingest.Config{
		Policy:        ingest.Policy(cfg.Ingest.Policy),
		MaxChunks:     cfg.Ingest.MaxChunks,
		BuildAttempts: cfg.Ingest.BuildAttempts,
		BuildDelay:    cfg.Ingest.BuildDelay,
		BatchSize:     cfg.Embedding.BatchSize,
		Workers:       cfg.Ingest.Workers,
		Splitter:      splitter,
	}, logger)
	a.Jobs = ingest.NewJobs(a.Pipeline, logger)

	a.Retrieval = retrieval.New(a.Manager, a.Embedder, retrieval.Config{
		DefaultK: cfg.Retrieval.DefaultK,
		MaxK:     cfg.Retrieval.MaxK,
	}, logger)

	if cfg.Answer.Backend != "" {
		completer, err := answer.Completers.New(ctx, cfg.Answer.Backend, cfg.Answer.Params())
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Answer, err = answer.New(a.Retrieval, completer, answer.Config{
			Models:          cfg.Answer.Models,
			MaxContextChars: cfg.Answer.MaxContextChars,
			K:               cfg.Answer.K,
			Breaker: answer.BreakerConfig{
				Failures: cfg.Answer.BreakerFailures,
				Timeout:  cfg.Answer.BreakerTimeout,
			},
		}, logger)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("answer service: %w", err)
		}
		logger.Info("Initialized answer service", "backend", cfg.Answer.Backend, "models", cfg.Answer.Models)
	}
	return a, nil
}

// Close stops running relearn jobs and releases backend connections.
func (a *App) Close(ctx context.Context) error {
	var errList []error
	if a.Jobs != nil {
		a.Jobs.Close()
	}
	if a.History != nil {
		errList = append(errList, a.History.Close())
	}
	if a.Sources != nil {
		errList = append(errList, a.Sources.Close(ctx))
	}
	return errors.Join(errList...)
}
