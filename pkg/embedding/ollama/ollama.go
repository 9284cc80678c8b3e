// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package ollama registers the "ollama" embedding backend, served by a local
// Ollama instance through langchaingo.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/embedding"
)

const (
	DefaultModel     = "nomic-embed-text:latest"
	DefaultServerURL = "http://localhost:11434"
)

func init() {
	embedding.Providers.Register("ollama", func(ctx context.Context, params map[string]string) (embedding.Provider, error) {
		cfg := Config{
			ServerURL: params["base_url"],
			Model:     params["model"],
		}
		if v := params["dimensions"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("ollama embedding: invalid dimensions %q", v)
			}
			cfg.Dimensions = n
		}
		return New(ctx, cfg)
	})
}

// Config for the Ollama embedding backend.
type Config struct {
	ServerURL string
	Model     string

	// Dimensions of the model output. When zero, New embeds a sample string
	// to discover it.
	Dimensions int
}

// embedder is the subset of *ollama.LLM used here.
type embedder interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// Provider implements embedding.Provider on top of an Ollama server.
type Provider struct {
	llm        embedder
	model      string
	dimensions int
}

var _ embedding.Provider = (*Provider)(nil)

// New connects to Ollama. The context bounds the dimension lookup.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}

	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.ServerURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return newProvider(ctx, llm, cfg.Model, cfg.Dimensions)
}

func newProvider(ctx context.Context, llm embedder, model string, dims int) (*Provider, error) {
	p := &Provider{llm: llm, model: model, dimensions: dims}
	if dims > 0 {
		return p, nil
	}
	vecs, err := llm.CreateEmbedding(ctx, []string{"dimension check"})
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, p.wrap(errors.New("empty sample embedding"))
	}
	p.dimensions = len(vecs[0])
	return p, nil
}

func (p *Provider) Name() string    { return "ollama/" + p.model }
func (p *Provider) Dimensions() int { return p.dimensions }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(vecs) != len(texts) {
		return nil, p.wrap(fmt.Errorf("got %d embeddings for %d inputs", len(vecs), len(texts)))
	}
	return vecs, nil
}

func (p *Provider) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &errs.ExternalError{Service: "ollama embeddings", Model: p.model, Err: err}
}
