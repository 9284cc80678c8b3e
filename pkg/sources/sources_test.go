// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leseb/docqa/pkg/core/errs"
)

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"policy.pdf", "Acme Policy 2024.PDF", "a-b_c.pdf"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", " a.pdf", ".hidden.pdf", "../x.pdf", "dir/x.pdf", `dir\x.pdf`, strings.Repeat("a", 256)} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

func TestSentinelWrappers(t *testing.T) {
	assert.ErrorIs(t, TenantUnknown("Acme"), errs.ErrTenantUnknown)
	assert.ErrorIs(t, DocumentNotFound("Acme", "a.pdf"), errs.ErrDocumentNotFound)
	assert.ErrorIs(t, TenantExists("Acme"), errs.ErrTenantExists)
	assert.Contains(t, DocumentNotFound("Acme", "a.pdf").Error(), "Acme/a.pdf")
}
