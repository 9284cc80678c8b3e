// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/embedding"
)

func embeddingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}

		var req struct {
			Input any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		n := 1
		if arr, ok := req.Input.([]any); ok {
			n = len(arr)
		}

		data := make([]map[string]any, n)
		// Respond in reverse order to check that results follow "index".
		for i := range n {
			idx := n - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": idx, "embedding": []float64{float64(idx), 1, 0}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embed",
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch(t *testing.T) {
	srv := embeddingServer(t, http.StatusOK)
	p := New(Config{BaseURL: srv.URL, Model: "test-embed", Dimensions: 3})

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, []float32{float32(i), 1, 0}, v)
	}

	one, err := p.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, one)

	assert.Equal(t, "openai/test-embed/3", embedding.Fingerprint(p))
}

func TestEmbedBatch_Empty(t *testing.T) {
	vecs, err := New(Config{}).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedBatch_RateLimited(t *testing.T) {
	srv := embeddingServer(t, http.StatusTooManyRequests)
	p, err := embedding.Providers.New(context.Background(), "openai", map[string]string{
		"base_url":    srv.URL,
		"model":       "test-embed",
		"dimensions":  "3",
		"max_retries": "1",
	})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternal)
	assert.True(t, errs.IsRateLimited(err))

	var ext *errs.ExternalError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, http.StatusTooManyRequests, ext.Status)
}

func TestFactory_InvalidParams(t *testing.T) {
	for _, params := range []map[string]string{
		{"dimensions": "abc"},
		{"requests_per_second": "-2"},
	} {
		_, err := embedding.Providers.New(context.Background(), "openai", params)
		assert.Error(t, err, "%v", params)
	}
}

func TestDefaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, "openai/"+DefaultModel, p.Name())
	assert.Equal(t, DefaultDimensions, p.Dimensions())
}
