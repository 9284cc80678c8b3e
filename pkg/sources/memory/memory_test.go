// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory_test

import (
	"context"
	"testing"

	"github.com/leseb/docqa/pkg/sources"
	"github.com/leseb/docqa/pkg/sources/memory"
	"github.com/leseb/docqa/pkg/sources/sourcestest"
)

func TestMemoryConformance(t *testing.T) {
	sourcestest.RunConformanceTests(t, func(t *testing.T) sources.Store {
		return memory.New()
	})
}

func TestGetReturnsCopy(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.CreateTenant(ctx, "Acme")
	_ = store.Put(ctx, "Acme", "a.pdf", []byte("abc"))

	got, _ := store.Get(ctx, "Acme", "a.pdf")
	got[0] = 'z'

	again, _ := store.Get(ctx, "Acme", "a.pdf")
	if string(again) != "abc" {
		t.Errorf("stored content was mutated through Get: %q", again)
	}
}
