// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leseb/docqa/pkg/core/errs"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		wantErr bool
	}{
		{"simple", "Acme", false},
		{"with space and dash", "Acme Insurance-2", false},
		{"with dot and underscore", "acme_co.uk", false},
		{"empty", "", true},
		{"leading dot", ".staging", true},
		{"path traversal", "a..b", true},
		{"slash", "acme/evil", true},
		{"backslash", `acme\evil`, true},
		{"leading space", " acme", true},
		{"trailing space", "acme ", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tenant)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.tenant, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errs.ErrInvalidTenant) {
				t.Errorf("Validate(%q) error = %v, want ErrInvalidTenant", tt.tenant, err)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "/data"}
	assert.Equal(t, filepath.Join("/data", "sources", "Acme"), l.SourceDir("Acme"))
	assert.Equal(t, filepath.Join("/data", "vectorstores", "Acme"), l.StoreDir("Acme"))
	assert.Equal(t, filepath.Join("/data", "logos", "Acme.png"), l.Logo("Acme"))
	assert.Equal(t, filepath.Join("/data", "vectorstores", ".staging", "Acme-x1"), l.StagingDir("Acme", "x1"))
	assert.Equal(t, filepath.Join("/data", "vectorstores", ".trash", "Acme-x1"), l.TrashDir("Acme", "x1"))
	assert.True(t, IsReserved(filepath.Base(l.StagingRoot())))
	assert.False(t, IsReserved("Acme"))
}
