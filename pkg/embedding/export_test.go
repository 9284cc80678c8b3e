// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

func resetShared() {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	shared.name = ""
	shared.p = nil
}
