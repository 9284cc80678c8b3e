// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package tenant validates tenant identifiers and maps them onto the on-disk
// layout shared by the source store, the vector stores and the logos.
package tenant

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/leseb/docqa/pkg/core/errs"
)

// MaxNameLength bounds tenant identifiers.
const MaxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]*$`)

// Validate checks that name can be used as a directory name on any platform.
// Leading dots are rejected, which keeps tenant directories from colliding
// with the staging and trash areas.
func Validate(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", errs.ErrInvalidTenant)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d characters", errs.ErrInvalidTenant, MaxNameLength)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains \"..\"", errs.ErrInvalidTenant, name)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q has surrounding whitespace", errs.ErrInvalidTenant, name)
	case !namePattern.MatchString(name):
		return fmt.Errorf("%w: %q", errs.ErrInvalidTenant, name)
	}
	return nil
}

// Layout resolves tenant paths under a data root:
//
//	<root>/sources/<tenant>/<file>.pdf
//	<root>/vectorstores/<tenant>/store.db
//	<root>/vectorstores/.staging/<tenant>-<id>/
//	<root>/vectorstores/.trash/<tenant>-<id>/
//	<root>/logos/<tenant>.png
type Layout struct {
	Root string
}

func (l Layout) SourcesRoot() string { return filepath.Join(l.Root, "sources") }

func (l Layout) StoresRoot() string { return filepath.Join(l.Root, "vectorstores") }

func (l Layout) LogosRoot() string { return filepath.Join(l.Root, "logos") }

func (l Layout) SourceDir(tenant string) string { return filepath.Join(l.SourcesRoot(), tenant) }

func (l Layout) StoreDir(tenant string) string { return filepath.Join(l.StoresRoot(), tenant) }

func (l Layout) Logo(tenant string) string { return filepath.Join(l.LogosRoot(), tenant+".png") }

func (l Layout) StagingRoot() string { return filepath.Join(l.StoresRoot(), ".staging") }

func (l Layout) TrashRoot() string { return filepath.Join(l.StoresRoot(), ".trash") }

// StagingDir is where a rebuild writes before it is swapped into place.
func (l Layout) StagingDir(tenant, id string) string {
	return filepath.Join(l.StagingRoot(), tenant+"-"+id)
}

// TrashDir receives the previous live store during a swap.
func (l Layout) TrashDir(tenant, id string) string {
	return filepath.Join(l.TrashRoot(), tenant+"-"+id)
}

// IsReserved reports whether a directory entry under the stores root belongs
// to the layout itself rather than to a tenant.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ".")
}
