// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai registers the "openai" embedding backend, which calls any
// OpenAI-compatible /v1/embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/embedding"
)

const (
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536
)

func init() {
	embedding.Providers.Register("openai", func(_ context.Context, params map[string]string) (embedding.Provider, error) {
		cfg := Config{
			BaseURL: params["base_url"],
			APIKey:  params["api_key"],
			Model:   params["model"],
		}
		var err error
		if cfg.Dimensions, err = intParam(params, "dimensions"); err != nil {
			return nil, err
		}
		if cfg.MaxRetries, err = intParam(params, "max_retries"); err != nil {
			return nil, err
		}
		if v := params["requests_per_second"]; v != "" {
			rps, err := strconv.ParseFloat(v, 64)
			if err != nil || rps < 0 {
				return nil, fmt.Errorf("openai embedding: invalid requests_per_second %q", v)
			}
			cfg.RequestsPerSecond = rps
		}
		return New(cfg), nil
	})
}

func intParam(params map[string]string, key string) (int, error) {
	v := params[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("openai embedding: invalid %s %q", key, v)
	}
	return n, nil
}

// Config for the OpenAI embedding backend.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int

	// MaxRetries is passed to the SDK. Zero keeps the SDK default.
	MaxRetries int

	// RequestsPerSecond paces calls. Zero disables pacing.
	RequestsPerSecond float64
}

// Provider implements embedding.Provider using the OpenAI SDK.
type Provider struct {
	client     openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

var _ embedding.Provider = (*Provider)(nil)

// New creates an embedding provider with its own base URL and API key.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey("dummy"))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	p := &Provider{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return p
}

func (p *Provider) Name() string    { return "openai/" + p.model }
func (p *Provider) Dimensions() int { return p.dimensions }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for the given text inputs.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	// Build the input union: for a single string use OfString, otherwise OfArrayOfStrings
	var input openai.EmbeddingNewParamsInputUnion
	if len(texts) == 1 {
		input = openai.EmbeddingNewParamsInputUnion{OfString: openai.String(texts[0])}
	} else {
		input = openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(p.model),
		Input:      input,
		Dimensions: openai.Int(int64(p.dimensions)),
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, p.wrap(fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, p.wrap(fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		results[d.Index] = vec
	}
	return results, nil
}

func (p *Provider) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ext := &errs.ExternalError{Service: "openai embeddings", Model: p.model, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		ext.Status = apiErr.StatusCode
	}
	return ext
}
