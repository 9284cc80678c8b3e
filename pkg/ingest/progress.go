// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import "sync"

// Stage names a step of an ingestion.
type Stage string

const (
	StageLoading   Stage = "loading"
	StageLoaded    Stage = "loaded"
	StageEmbedding Stage = "embedding"
	StageBuilding  Stage = "building"
	StageVerifying Stage = "verifying"
	StageDone      Stage = "done"
)

// Event reports progress within a stage. For StageLoaded, Source is the
// document that just finished; for StageBuilding and StageVerifying, Done is
// the attempt number.
type Event struct {
	Tenant string `json:"tenant"`
	Stage  Stage  `json:"stage"`
	Source string `json:"source,omitempty"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
}

// ProgressFunc receives ingestion events. Calls never overlap.
type ProgressFunc func(Event)

// synced returns a ProgressFunc that stamps the tenant and serializes calls.
// It is safe to call on a nil ProgressFunc.
func (f ProgressFunc) synced(tn string) ProgressFunc {
	if f == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(e Event) {
		e.Tenant = tn
		mu.Lock()
		defer mu.Unlock()
		f(e)
	}
}
