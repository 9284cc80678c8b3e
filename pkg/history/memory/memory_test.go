// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"testing"

	"github.com/leseb/docqa/pkg/history"
	"github.com/leseb/docqa/pkg/history/historytest"
)

func TestMemoryConformance(t *testing.T) {
	historytest.RunConformanceTests(t, func(t *testing.T) history.Store {
		return New()
	})
}
