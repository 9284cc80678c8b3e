// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/ingest/ingesttest"
	"github.com/leseb/docqa/pkg/retrieval"
	"github.com/leseb/docqa/pkg/vectorstore"
)

func newService(env *ingesttest.Env) *retrieval.Service {
	return retrieval.New(env.Manager, env.Embedder, retrieval.Config{}, nil)
}

func TestQuery_CoverageScenario(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	env.Insurance(t)
	env.Ingest(t, "Acme")

	res, err := newService(env).Query(context.Background(), "Acme", "What is the collision coverage limit?", 0)
	require.NoError(t, err)
	require.Len(t, res, 3, "default k is capped by the store size")
	assert.Equal(t, "auto.pdf", res[0].Source)
	assert.Contains(t, res[0].Text, "$50,000")
	assert.Equal(t, "Acme", res[0].Tenant)
	assert.Equal(t, 1, res[0].Page)
	assert.Equal(t, "auto.pdf_chunk_0", res[0].ChunkID)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestQuery_DefaultAndMaxK(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	env.Tenant(t, "Acme")
	for i := range 6 {
		env.PDF(t, "Acme", fmt.Sprintf("doc%d.pdf", i), fmt.Sprintf("Clause number %d about deductibles.", i))
	}
	env.Ingest(t, "Acme")
	ctx := context.Background()

	res, err := newService(env).Query(ctx, "Acme", "deductibles", 0)
	require.NoError(t, err)
	assert.Len(t, res, retrieval.DefaultK)

	res, err = newService(env).Query(ctx, "Acme", "deductibles", 2)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	capped := retrieval.New(env.Manager, env.Embedder, retrieval.Config{MaxK: 5}, nil)
	res, err = capped.Query(ctx, "Acme", "deductibles", 100)
	require.NoError(t, err)
	assert.Len(t, res, 5)
}

func TestQuery_TiesKeepInsertionOrder(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	env.Tenant(t, "Acme")
	for _, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		env.PDF(t, "Acme", name, "Identical wording in every document.")
	}
	env.Ingest(t, "Acme")

	res, err := newService(env).Query(context.Background(), "Acme", "identical wording", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"},
		[]string{res[0].Source, res[1].Source, res[2].Source})
}

func TestQuery_Errors(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	svc := newService(env)
	ctx := context.Background()

	_, err := svc.Query(ctx, "Acme", "   ", 4)
	assert.ErrorIs(t, err, errs.ErrInput)
	assert.ErrorIs(t, err, errs.ErrEmptyQuery)

	_, err = svc.Query(ctx, "Nobody", "anything", 4)
	assert.ErrorIs(t, err, errs.ErrInput)
	assert.ErrorIs(t, err, errs.ErrTenantUnknown)

	_, err = svc.Query(ctx, "../x", "anything", 4)
	assert.ErrorIs(t, err, errs.ErrInvalidTenant)

	env.Tenant(t, "Acme")
	env.PDF(t, "Acme", "a.pdf", "text")
	_, err = svc.Query(ctx, "Acme", "anything", 4)
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestQuery_AfterDeleteStore(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	env.Insurance(t)
	env.Ingest(t, "Acme")
	svc := newService(env)
	ctx := context.Background()

	_, err := svc.Query(ctx, "Acme", "fire", 1)
	require.NoError(t, err)

	require.NoError(t, env.Manager.DeleteStore(ctx, "Acme"))
	_, err = svc.Query(ctx, "Acme", "fire", 1)
	assert.ErrorIs(t, err, errs.ErrNotReady)

	env.Ingest(t, "Acme")
	res, err := svc.Query(ctx, "Acme", "fire", 1)
	require.NoError(t, err)
	assert.Equal(t, "home.pdf", res[0].Source)
}

func TestQuery_AfterDeleteTenant(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	env.Insurance(t)
	env.Ingest(t, "Acme")
	svc := newService(env)
	ctx := context.Background()

	require.NoError(t, env.Manager.DeleteTenant(ctx, "Acme"))
	_, err := svc.Query(ctx, "Acme", "collision", 4)
	assert.ErrorIs(t, err, errs.ErrTenantUnknown)
}

func TestQuery_CorruptedStoreRecovers(t *testing.T) {
	env := ingesttest.New(t, ingesttest.Options{})
	env.Insurance(t)
	env.Ingest(t, "Acme")
	svc := newService(env)
	ctx := context.Background()

	path := filepath.Join(env.Layout.StoreDir("Acme"), vectorstore.FileName)
	require.NoError(t, os.WriteFile(path, []byte("garbage that is not sqlite"), 0o644))
	env.Manager.Registry().Invalidate("Acme")

	_, err := svc.Query(ctx, "Acme", "collision", 4)
	assert.ErrorIs(t, err, errs.ErrCorrupted)

	_, err = svc.Query(ctx, "Acme", "collision", 4)
	assert.ErrorIs(t, err, errs.ErrNotReady, "recovery left an empty store")

	env.Ingest(t, "Acme")
	res, err := svc.Query(ctx, "Acme", "collision", 1)
	require.NoError(t, err)
	assert.Equal(t, "auto.pdf", res[0].Source)
}
