// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package embedding defines the text embedding provider shared by ingestion
// and retrieval, and the registry of provider backends.
//
// Import backend packages with blank imports to register them:
//
//	import _ "github.com/leseb/docqa/pkg/embedding/openai"
//
// The local "hashing" backend is registered by this package.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/leseb/docqa/pkg/provider"
)

// Providers is the registry of embedding backends.
var Providers = provider.NewRegistry[Provider]("embedding")

// Provider maps text to fixed-dimension vectors.
type Provider interface {
	// Name identifies the backend and model, e.g. "openai/text-embedding-3-small".
	Name() string

	// Dimensions is the length of every vector this provider returns.
	Dimensions() int

	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Fingerprint identifies the embedding function a store was built with.
// Stores are only queried with a provider of the same fingerprint.
func Fingerprint(p Provider) string {
	return fmt.Sprintf("%s/%d", p.Name(), p.Dimensions())
}

var shared struct {
	mu   sync.Mutex
	name string
	p    Provider
}

// Shared returns the process-wide provider, creating it on first use.
// Later calls return the same instance. Asking for a different backend once
// one is initialised is an error. A failed initialisation is not cached.
func Shared(ctx context.Context, name string, params map[string]string, serialize bool) (Provider, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	if shared.p != nil {
		if shared.name != name {
			return nil, fmt.Errorf("embedding provider already initialised as %q, requested %q", shared.name, name)
		}
		return shared.p, nil
	}

	p, err := Providers.New(ctx, name, params)
	if err != nil {
		return nil, fmt.Errorf("initialising embedding provider %q: %w", name, err)
	}
	if serialize {
		p = Serialize(p)
	}
	shared.name = name
	shared.p = p
	return p, nil
}

// Serialize wraps p so that at most one call runs at a time. Used for
// backends that are not safe for concurrent use.
func Serialize(p Provider) Provider {
	if _, ok := p.(*serialized); ok {
		return p
	}
	return &serialized{p: p}
}

type serialized struct {
	mu sync.Mutex
	p  Provider
}

var _ Provider = (*serialized)(nil)

func (s *serialized) Name() string    { return s.p.Name() }
func (s *serialized) Dimensions() int { return s.p.Dimensions() }

func (s *serialized) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Embed(ctx, text)
}

func (s *serialized) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.EmbedBatch(ctx, texts)
}

// EmbedAll embeds texts in batches of batchSize, calling progress after each
// batch with the number of texts done so far. It checks ctx between batches.
func EmbedAll(ctx context.Context, p Provider, texts []string, batchSize int, progress func(done, total int)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(texts))
		vecs, err := p.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding provider %s returned %d vectors for %d inputs", p.Name(), len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) != p.Dimensions() {
				return nil, fmt.Errorf("embedding provider %s returned %d dimensions for input %d, want %d",
					p.Name(), len(v), start+i, p.Dimensions())
			}
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(end, len(texts))
		}
	}
	return out, nil
}

// DefaultBatchSize is the number of texts sent per EmbedBatch call.
const DefaultBatchSize = 64
