// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sourcestest provides a shared conformance test suite for
// sources.Store implementations. Each backend should call
// RunConformanceTests from its own _test.go file.
package sourcestest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/sources"
)

// RunConformanceTests exercises a Store implementation against the shared
// contract. The newStore function is called once per sub-test to provide an
// isolated store instance.
func RunConformanceTests(t *testing.T, newStore func(t *testing.T) sources.Store) {
	t.Helper()

	setup := func(t *testing.T, tenants ...string) sources.Store {
		t.Helper()
		store := newStore(t)
		t.Cleanup(func() { store.Close(context.Background()) })
		for _, tn := range tenants {
			if err := store.CreateTenant(context.Background(), tn); err != nil {
				t.Fatalf("CreateTenant(%q): %v", tn, err)
			}
		}
		return store
	}

	t.Run("CreateTenant", func(t *testing.T) {
		store := setup(t, "Acme")
		ctx := context.Background()

		ok, err := store.TenantExists(ctx, "Acme")
		if err != nil || !ok {
			t.Fatalf("TenantExists = %v, %v; want true", ok, err)
		}
		ok, err = store.TenantExists(ctx, "Globex")
		if err != nil || ok {
			t.Fatalf("TenantExists(Globex) = %v, %v; want false", ok, err)
		}

		if err := store.CreateTenant(ctx, "Acme"); !errors.Is(err, errs.ErrTenantExists) {
			t.Errorf("second CreateTenant: expected ErrTenantExists, got %v", err)
		}

		docs, err := store.List(ctx, "Acme")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("new tenant should have no documents, got %d", len(docs))
		}
	})

	t.Run("ListTenants", func(t *testing.T) {
		store := setup(t, "Globex", "Acme")
		got, err := store.ListTenants(context.Background())
		if err != nil {
			t.Fatalf("ListTenants: %v", err)
		}
		if !slices.Equal(got, []string{"Acme", "Globex"}) {
			t.Errorf("ListTenants = %v, want [Acme Globex]", got)
		}
	})

	t.Run("PutGetList", func(t *testing.T) {
		store := setup(t, "Acme")
		ctx := context.Background()

		for _, name := range []string{"b.pdf", "a.pdf", "c.pdf"} {
			if err := store.Put(ctx, "Acme", name, []byte("content of "+name)); err != nil {
				t.Fatalf("Put(%s): %v", name, err)
			}
		}

		got, err := store.Get(ctx, "Acme", "b.pdf")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "content of b.pdf" {
			t.Errorf("content mismatch: got %q", got)
		}

		docs, err := store.List(ctx, "Acme")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var names []string
		for _, d := range docs {
			names = append(names, d.Name)
			if d.Tenant != "Acme" {
				t.Errorf("document %s has tenant %q", d.Name, d.Tenant)
			}
			if d.Bytes != int64(len("content of "+d.Name)) {
				t.Errorf("document %s has %d bytes", d.Name, d.Bytes)
			}
		}
		if !slices.Equal(names, []string{"a.pdf", "b.pdf", "c.pdf"}) {
			t.Errorf("List order = %v, want sorted by name", names)
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		store := setup(t, "Acme")
		ctx := context.Background()

		_ = store.Put(ctx, "Acme", "a.pdf", []byte("v1"))
		if err := store.Put(ctx, "Acme", "a.pdf", []byte("version 2")); err != nil {
			t.Fatalf("second Put: %v", err)
		}
		got, _ := store.Get(ctx, "Acme", "a.pdf")
		if string(got) != "version 2" {
			t.Errorf("Get after overwrite = %q", got)
		}
		docs, _ := store.List(ctx, "Acme")
		if len(docs) != 1 {
			t.Errorf("expected 1 document after overwrite, got %d", len(docs))
		}
	})

	t.Run("Isolation", func(t *testing.T) {
		store := setup(t, "Acme", "Globex")
		ctx := context.Background()

		_ = store.Put(ctx, "Acme", "a.pdf", []byte("acme"))
		_ = store.Put(ctx, "Globex", "g.pdf", []byte("globex"))

		if _, err := store.Get(ctx, "Acme", "g.pdf"); !errors.Is(err, errs.ErrDocumentNotFound) {
			t.Errorf("cross-tenant Get: expected ErrDocumentNotFound, got %v", err)
		}
		if n, err := store.DeleteAll(ctx, "Acme"); err != nil || n != 1 {
			t.Fatalf("DeleteAll = %d, %v", n, err)
		}
		docs, _ := store.List(ctx, "Globex")
		if len(docs) != 1 {
			t.Errorf("Globex documents after Acme DeleteAll = %d, want 1", len(docs))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := setup(t, "Acme")
		ctx := context.Background()

		_ = store.Put(ctx, "Acme", "a.pdf", []byte("a"))
		_ = store.Put(ctx, "Acme", "b.pdf", []byte("b"))

		if err := store.Delete(ctx, "Acme", "a.pdf"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, "Acme", "a.pdf"); !errors.Is(err, errs.ErrDocumentNotFound) {
			t.Errorf("Get after delete: expected ErrDocumentNotFound, got %v", err)
		}
		if err := store.Delete(ctx, "Acme", "a.pdf"); !errors.Is(err, errs.ErrDocumentNotFound) {
			t.Errorf("second Delete: expected ErrDocumentNotFound, got %v", err)
		}
		docs, _ := store.List(ctx, "Acme")
		if len(docs) != 1 || docs[0].Name != "b.pdf" {
			t.Errorf("List after delete = %+v", docs)
		}
	})

	t.Run("DeleteAllKeepsTenant", func(t *testing.T) {
		store := setup(t, "Acme")
		ctx := context.Background()

		_ = store.Put(ctx, "Acme", "a.pdf", []byte("a"))
		_ = store.Put(ctx, "Acme", "b.pdf", []byte("b"))

		n, err := store.DeleteAll(ctx, "Acme")
		if err != nil || n != 2 {
			t.Fatalf("DeleteAll = %d, %v; want 2", n, err)
		}
		ok, _ := store.TenantExists(ctx, "Acme")
		if !ok {
			t.Error("tenant should survive DeleteAll")
		}
		docs, _ := store.List(ctx, "Acme")
		if len(docs) != 0 {
			t.Errorf("expected no documents, got %d", len(docs))
		}
	})

	t.Run("DeleteTenant", func(t *testing.T) {
		store := setup(t, "Acme")
		ctx := context.Background()

		_ = store.Put(ctx, "Acme", "a.pdf", []byte("a"))
		if err := store.DeleteTenant(ctx, "Acme"); err != nil {
			t.Fatalf("DeleteTenant: %v", err)
		}
		ok, _ := store.TenantExists(ctx, "Acme")
		if ok {
			t.Error("tenant still exists after DeleteTenant")
		}
		if _, err := store.List(ctx, "Acme"); !errors.Is(err, errs.ErrTenantUnknown) {
			t.Errorf("List after DeleteTenant: expected ErrTenantUnknown, got %v", err)
		}
		if err := store.DeleteTenant(ctx, "Acme"); !errors.Is(err, errs.ErrTenantUnknown) {
			t.Errorf("second DeleteTenant: expected ErrTenantUnknown, got %v", err)
		}
		if err := store.CreateTenant(ctx, "Acme"); err != nil {
			t.Errorf("recreate after delete: %v", err)
		}
	})

	t.Run("UnknownTenant", func(t *testing.T) {
		store := setup(t)
		ctx := context.Background()

		if err := store.Put(ctx, "Nobody", "a.pdf", []byte("a")); !errors.Is(err, errs.ErrTenantUnknown) {
			t.Errorf("Put: expected ErrTenantUnknown, got %v", err)
		}
		if _, err := store.Get(ctx, "Nobody", "a.pdf"); !errors.Is(err, errs.ErrTenantUnknown) {
			t.Errorf("Get: expected ErrTenantUnknown, got %v", err)
		}
		if _, err := store.List(ctx, "Nobody"); !errors.Is(err, errs.ErrTenantUnknown) {
			t.Errorf("List: expected ErrTenantUnknown, got %v", err)
		}
		if _, err := store.DeleteAll(ctx, "Nobody"); !errors.Is(err, errs.ErrTenantUnknown) {
			t.Errorf("DeleteAll: expected ErrTenantUnknown, got %v", err)
		}
	})

	t.Run("InvalidName", func(t *testing.T) {
		store := setup(t, "Acme")
		if err := store.Put(context.Background(), "Acme", "../escape.pdf", []byte("x")); err == nil {
			t.Error("Put with path separator should fail")
		}
	})
}
