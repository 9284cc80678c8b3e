// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leseb/docqa/pkg/sources"
	"github.com/leseb/docqa/pkg/sources/filesystem"
	"github.com/leseb/docqa/pkg/sources/sourcestest"
)

func TestFilesystemConformance(t *testing.T) {
	sourcestest.RunConformanceTests(t, func(t *testing.T) sources.Store {
		store, err := filesystem.New(t.TempDir())
		if err != nil {
			t.Fatalf("filesystem.New: %v", err)
		}
		return store
	})
}

func TestList_SkipsHiddenAndDirs(t *testing.T) {
	base := t.TempDir()
	store, err := filesystem.New(base)
	if err != nil {
		t.Fatalf("filesystem.New: %v", err)
	}
	ctx := context.Background()
	if err := store.CreateTenant(ctx, "Acme"); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	dir := store.Dir("Acme")
	for _, name := range []string{".upload-123", "b.pdf", "a.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	docs, err := store.List(ctx, "Acme")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 || docs[0].Name != "a.pdf" || docs[1].Name != "b.pdf" {
		t.Errorf("List = %+v, want [a.pdf b.pdf]", docs)
	}
}

func TestNew_RequiresBaseDir(t *testing.T) {
	if _, err := filesystem.New(""); err == nil {
		t.Error("expected error for empty base dir")
	}
}
