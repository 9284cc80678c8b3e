// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sources stores each tenant's source documents. A tenant exists
// exactly when its source set exists, even if the set is empty.
package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/provider"
)

// Providers is the registry of source store backend implementations.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/docqa/pkg/sources/filesystem"
//	import _ "github.com/leseb/docqa/pkg/sources/s3"
var Providers = provider.NewRegistry[Store]("sources")

// Document describes one stored source file.
type Document struct {
	Tenant  string
	Name    string
	Bytes   int64
	ModTime time.Time
}

// Store defines the interface for pluggable source storage backends.
//
// Missing tenants are reported with errs.ErrTenantUnknown and missing
// documents with errs.ErrDocumentNotFound. List returns documents sorted by
// name; that order is the enumeration order used by ingestion.
type Store interface {
	CreateTenant(ctx context.Context, tenant string) error
	TenantExists(ctx context.Context, tenant string) (bool, error)
	ListTenants(ctx context.Context) ([]string, error)
	DeleteTenant(ctx context.Context, tenant string) error

	Put(ctx context.Context, tenant, name string, content []byte) error
	Get(ctx context.Context, tenant, name string) ([]byte, error)
	List(ctx context.Context, tenant string) ([]Document, error)
	Delete(ctx context.Context, tenant, name string) error

	// DeleteAll removes every document of the tenant, keeping the tenant,
	// and returns how many were removed.
	DeleteAll(ctx context.Context, tenant string) (int, error)

	Close(ctx context.Context) error
}

// ValidateName checks that name is a plain file name.
func ValidateName(name string) error {
	switch {
	case name == "", name != strings.TrimSpace(name):
		return fmt.Errorf("invalid document name %q", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("invalid document name %q: leading dot", name)
	case strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return fmt.Errorf("invalid document name %q: path separators are not allowed", name)
	case len(name) > 255:
		return fmt.Errorf("invalid document name: longer than 255 bytes")
	}
	return nil
}

// TenantUnknown wraps errs.ErrTenantUnknown for tenant.
func TenantUnknown(tenant string) error {
	return fmt.Errorf("tenant %q: %w", tenant, errs.ErrTenantUnknown)
}

// DocumentNotFound wraps errs.ErrDocumentNotFound for tenant/name.
func DocumentNotFound(tenant, name string) error {
	return fmt.Errorf("document %s/%s: %w", tenant, name, errs.ErrDocumentNotFound)
}

// TenantExists wraps errs.ErrTenantExists for tenant.
func TenantExists(tenant string) error {
	return fmt.Errorf("tenant %q: %w", tenant, errs.ErrTenantExists)
}
