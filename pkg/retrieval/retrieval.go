// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrieval answers similarity queries against a tenant's store.
package retrieval

import (
	"context"
	"strings"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/embedding"
	"github.com/leseb/docqa/pkg/lifecycle"
	"github.com/leseb/docqa/pkg/observability/logging"
)

const (
	DefaultK = 4
	MaxK     = 50
)

// Config tunes a Service.
type Config struct {
	DefaultK int
	MaxK     int
}

// Result is one ranked chunk.
type Result struct {
	ChunkID string  `json:"chunk_id"`
	Tenant  string  `json:"tenant"`
	Source  string  `json:"source"`
	Page    int     `json:"page"`
	Offset  int     `json:"offset"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Service runs queries. It must share its embedding provider with the
// ingestion pipeline.
type Service struct {
	manager  *lifecycle.Manager
	embedder embedding.Provider
	cfg      Config
	log      *logging.Logger
}

// New creates a Service.
func New(manager *lifecycle.Manager, embedder embedding.Provider, cfg Config, logger *logging.Logger) *Service {
	if cfg.MaxK <= 0 {
		cfg.MaxK = MaxK
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	cfg.DefaultK = min(cfg.DefaultK, cfg.MaxK)
	return &Service{
		manager:  manager,
		embedder: embedder,
		cfg:      cfg,
		log:      logging.OrDiscard(logger).Component("retrieval"),
	}
}

// Query returns the k chunks of tn most similar to text, best first. k <= 0
// uses the default; larger values are capped at the configured maximum.
func (s *Service) Query(ctx context.Context, tn, text string, k int) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.Input("query", tn, errs.ErrEmptyQuery)
	}
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	k = min(k, s.cfg.MaxK)

	h, err := s.manager.Acquire(ctx, tn)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errs.E(errs.ErrExternal, "embed query", tn, err)
	}
	hits, err := h.Store.Search(vec, k)
	if err != nil {
		return nil, errs.NotReady("query", tn, err)
	}

	out := make([]Result, len(hits))
	for i, hit := range hits {
		c := hit.Chunk
		out[i] = Result{
			ChunkID: c.ID,
			Tenant:  c.Tenant,
			Source:  c.Source,
			Page:    c.Page,
			Offset:  c.Offset,
			Text:    c.Text,
			Score:   hit.Score,
		}
	}
	s.log.Debug("query served", "tenant", tn, "k", k, "results", len(out), "generation", h.Generation)
	return out, nil
}
