// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leseb/docqa/pkg/sources"
)

func init() {
	sources.Providers.Register("filesystem", func(_ context.Context, params map[string]string) (sources.Store, error) {
		return New(params["base_dir"])
	})
}

// compile-time check
var _ sources.Store = (*Store)(nil)

// Store implements sources.Store backed by a local directory tree.
//
// Layout:
//
//	<baseDir>/<tenant>/           tenant source set
//	<baseDir>/<tenant>/<name>     raw document bytes
type Store struct {
	baseDir string
}

// New creates a filesystem-backed Store, creating baseDir if it does not exist.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("filesystem sources: base_dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the directory holding tenant's documents.
func (s *Store) Dir(tenant string) string {
	return filepath.Join(s.baseDir, tenant)
}

func (s *Store) CreateTenant(_ context.Context, tenant string) error {
	err := os.Mkdir(s.Dir(tenant), 0o755)
	if errors.Is(err, os.ErrExist) {
		return sources.TenantExists(tenant)
	}
	if err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}
	return nil
}

func (s *Store) TenantExists(_ context.Context, tenant string) (bool, error) {
	info, err := os.Stat(s.Dir(tenant))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat tenant dir: %w", err)
	}
	return info.IsDir(), nil
}

// ListTenants returns tenant names in lexical order. Hidden entries are skipped.
func (s *Store) ListTenants(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s *Store) DeleteTenant(ctx context.Context, tenant string) error {
	if err := s.requireTenant(ctx, tenant); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Dir(tenant)); err != nil {
		return fmt.Errorf("remove tenant dir: %w", err)
	}
	return nil
}

// Put writes the document atomically (temp file + rename), replacing any
// document with the same name.
func (s *Store) Put(ctx context.Context, tenant, name string, content []byte) error {
	if err := sources.ValidateName(name); err != nil {
		return err
	}
	if err := s.requireTenant(ctx, tenant); err != nil {
		return err
	}

	path := filepath.Join(s.Dir(tenant), name)
	tmp, err := os.CreateTemp(s.Dir(tenant), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename content: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenant, name string) ([]byte, error) {
	if err := sources.ValidateName(name); err != nil {
		return nil, sources.DocumentNotFound(tenant, name)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(tenant), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := s.requireTenant(ctx, tenant); err != nil {
				return nil, err
			}
			return nil, sources.DocumentNotFound(tenant, name)
		}
		return nil, fmt.Errorf("read content: %w", err)
	}
	return data, nil
}

// List returns the tenant's regular files sorted by name. Hidden files,
// including in-flight uploads, are skipped.
func (s *Store) List(ctx context.Context, tenant string) ([]sources.Document, error) {
	entries, err := os.ReadDir(s.Dir(tenant))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, sources.TenantUnknown(tenant)
		}
		return nil, fmt.Errorf("read tenant dir: %w", err)
	}

	docs := make([]sources.Document, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		docs = append(docs, sources.Document{
			Tenant:  tenant,
			Name:    e.Name(),
			Bytes:   info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, tenant, name string) error {
	if err := sources.ValidateName(name); err != nil {
		return sources.DocumentNotFound(tenant, name)
	}
	err := os.Remove(filepath.Join(s.Dir(tenant), name))
	if errors.Is(err, os.ErrNotExist) {
		if err := s.requireTenant(ctx, tenant); err != nil {
			return err
		}
		return sources.DocumentNotFound(tenant, name)
	}
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context, tenant string) (int, error) {
	docs, err := s.List(ctx, tenant)
	if err != nil {
		return 0, err
	}
	var removed int
	for _, d := range docs {
		if err := os.Remove(filepath.Join(s.Dir(tenant), d.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", d.Name, err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op for the filesystem store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) requireTenant(ctx context.Context, tenant string) error {
	ok, err := s.TenantExists(ctx, tenant)
	if err != nil {
		return err
	}
	if !ok {
		return sources.TenantUnknown(tenant)
	}
	return nil
}
