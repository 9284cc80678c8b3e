// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/core/config"
	"github.com/leseb/docqa/pkg/loader/pdftest"
	"github.com/leseb/docqa/pkg/observability/logging"
	"github.com/leseb/docqa/pkg/tenant"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Root = t.TempDir()
	cfg.Sources.Backend = "filesystem"
	cfg.History.Backend = "sqlite"
	cfg.History.Path = filepath.Join(cfg.Data.Root, "history.db")
	cfg.Embedding.Provider = "hashing"
	cfg.Answer.Backend = ""
	return cfg
}

func TestNew_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	leftover := tenant.Layout{Root: cfg.Data.Root}.StagingDir("Acme", "stale")
	pdftest.WriteRaw(t, leftover, "store.db", []byte("partial"))

	a, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close(context.Background())) })
	assert.NoDirExists(t, leftover)
	assert.Nil(t, a.Answer)

	require.NoError(t, a.Manager.CreateTenant(ctx, "Acme"))
	require.NoError(t, a.Manager.PutDocument(ctx, "Acme", "auto.pdf",
		pdftest.Build("Auto policy covers collision up to $50,000.")))

	rep, err := a.Pipeline.Ingest(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Documents)

	results, err := a.Retrieval.Query(ctx, "Acme", "collision coverage limit", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Text, "$50,000")

	runs, err := a.History.List(ctx, "Acme", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNew_WarnsOnHashingEmbedder(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = "memory"

	var buf bytes.Buffer
	a, err := New(context.Background(), cfg, logging.New(logging.Config{Level: "warn", Output: &buf}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if !strings.Contains(buf.String(), "lexical only") {
		t.Errorf("expected a lexical-only warning, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "Initialized sources backend") {
		t.Errorf("info lines leaked through a warn logger: %q", buf.String())
	}
}

func TestNew_AnswerBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = "memory"
	cfg.Answer.Backend = "openai"
	cfg.Answer.Endpoint = "http://127.0.0.1:1/v1"
	cfg.Answer.APIKey = "test"
	cfg.Answer.Models = []string{"gpt-4o-mini"}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	assert.NotNil(t, a.Answer)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown history backend", func(c *config.Config) { c.History.Backend = "etcd" }},
		{"unknown chunk profile", func(c *config.Config) { c.Chunking.Profile = "huge" }},
		{"unknown chunk strategy", func(c *config.Config) { c.Chunking.Strategy = "semantic" }},
		{"unknown answer backend", func(c *config.Config) { c.Answer.Backend = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, nil)
			assert.Error(t, err)
		})
	}
}
