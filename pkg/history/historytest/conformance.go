// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package historytest provides a shared conformance test suite for
// history.Store implementations.
package historytest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/history"
)

// RunConformanceTests exercises a Store implementation. newStore is called
// once per sub-test and must return an empty store.
func RunConformanceTests(t *testing.T, newStore func(t *testing.T) history.Store) {
	t.Helper()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := func(id, tenant string, i int) *history.Run {
		return &history.Run{
			ID:          id,
			Tenant:      tenant,
			Status:      history.StatusSucceeded,
			Documents:   3,
			FailedFiles: []string{"broken.pdf"},
			Chunks:      42,
			Attempts:    1,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + 5*time.Second),
		}
	}

	t.Run("RecordAndList", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		for i := range 3 {
			require.NoError(t, s.Record(ctx, run(fmt.Sprintf("run-%d", i), "Acme", i)))
		}
		failed := run("run-x", "Acme", 5)
		failed.Status = history.StatusFailed
		failed.Error = "no chunks produced"
		failed.FailedFiles = nil
		require.NoError(t, s.Record(ctx, failed))

		runs, err := s.List(ctx, "Acme", 0)
		require.NoError(t, err)
		require.Len(t, runs, 4)
		assert.Equal(t, "run-x", runs[0].ID, "newest first")
		assert.Equal(t, history.StatusFailed, runs[0].Status)
		assert.Equal(t, "no chunks produced", runs[0].Error)
		assert.Empty(t, runs[0].FailedFiles)

		got := runs[1]
		assert.Equal(t, "run-2", got.ID)
		assert.Equal(t, "Acme", got.Tenant)
		assert.Equal(t, 3, got.Documents)
		assert.Equal(t, []string{"broken.pdf"}, got.FailedFiles)
		assert.Equal(t, 42, got.Chunks)
		assert.Equal(t, 1, got.Attempts)
		assert.True(t, got.StartedAt.Equal(base.Add(2*time.Minute)), "started at %v", got.StartedAt)
		assert.True(t, got.FinishedAt.After(got.StartedAt))

		limited, err := s.List(ctx, "Acme", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Record(ctx, run("a1", "Acme", 0)))
		require.NoError(t, s.Record(ctx, run("g1", "Globex", 1)))

		runs, err := s.List(ctx, "Globex", 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "g1", runs[0].ID)

		runs, err = s.List(ctx, "Initech", 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("DeleteTenant", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Record(ctx, run("a1", "Acme", 0)))
		require.NoError(t, s.Record(ctx, run("g1", "Globex", 1)))
		require.NoError(t, s.DeleteTenant(ctx, "Acme"))

		runs, _ := s.List(ctx, "Acme", 0)
		assert.Empty(t, runs)
		runs, _ = s.List(ctx, "Globex", 0)
		assert.Len(t, runs, 1)
	})

	t.Run("DeleteAll", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Record(ctx, run("a1", "Acme", 0)))
		require.NoError(t, s.Record(ctx, run("g1", "Globex", 1)))
		require.NoError(t, s.DeleteAll(ctx))

		for _, tn := range []string{"Acme", "Globex"} {
			runs, _ := s.List(ctx, tn, 0)
			assert.Empty(t, runs, tn)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		require.NoError(t, s.Record(ctx, run("dup", "Acme", 0)))
		assert.Error(t, s.Record(ctx, run("dup", "Acme", 1)))
	})
}
