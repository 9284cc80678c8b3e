// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/leseb/docqa/pkg/history"
	"github.com/leseb/docqa/pkg/history/historytest"
)

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("HISTORY_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping postgres conformance tests: HISTORY_POSTGRES_DSN must be set")
	}

	historytest.RunConformanceTests(t, func(t *testing.T) history.Store {
		s, err := New(context.Background(), dsn)
		if err != nil {
			t.Fatalf("postgres.New: %v", err)
		}
		if err := s.DeleteAll(context.Background()); err != nil {
			t.Fatalf("DeleteAll: %v", err)
		}
		return s
	})
}

func TestNew_RequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Error("expected error for empty dsn")
	}
}
