// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package answer

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/retrieval"
)

type fakeRetriever struct {
	results []retrieval.Result
	err     error
	gotK    int
}

func (f *fakeRetriever) Query(_ context.Context, _, _ string, k int) ([]retrieval.Result, error) {
	f.gotK = k
	return f.results, f.err
}

// fakeCompleter fails with the configured status per model and records calls.
type fakeCompleter struct {
	mu      sync.Mutex
	status  map[string]int
	calls   []string
	prompts []string
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	f.prompts = append(f.prompts, prompt)
	if st := f.status[model]; st != 0 {
		return "", &errs.ExternalError{Service: "fake", Model: model, Status: st}
	}
	return "reply from " + model, nil
}

func policyResults() []retrieval.Result {
	return []retrieval.Result{
		{Tenant: "Acme", Source: "auto.pdf", Text: "Auto policy covers collision up to $50,000.", Score: 0.9},
		{Tenant: "Acme", Source: "home.pdf", Text: "Home policy covers fire damage.", Score: 0.2},
	}
}

func TestAnswer(t *testing.T) {
	ret := &fakeRetriever{results: policyResults()}
	comp := &fakeCompleter{}
	svc, err := New(ret, comp, Config{Models: []string{"m1"}, K: 4}, nil)
	require.NoError(t, err)

	ans, err := svc.Answer(context.Background(), "Acme", "What is the collision limit?")
	require.NoError(t, err)
	assert.Equal(t, "reply from m1", ans.Text)
	assert.Equal(t, "m1", ans.Model)
	assert.Len(t, ans.Sources, 2)
	assert.False(t, ans.ContextTruncated)
	assert.Equal(t, 4, ret.gotK)

	require.Len(t, comp.prompts, 1)
	assert.Equal(t,
		"Answer the following question using only this context.\n\n"+
			"Question: What is the collision limit?\n\n"+
			"Context: Auto policy covers collision up to $50,000.\n\nHome policy covers fire damage.\n",
		comp.prompts[0])
}

func TestAnswer_FallsBackOnRateLimit(t *testing.T) {
	comp := &fakeCompleter{status: map[string]int{"primary": http.StatusTooManyRequests}}
	svc, err := New(&fakeRetriever{results: policyResults()}, comp, Config{Models: []string{"primary", "backup"}}, nil)
	require.NoError(t, err)

	ans, err := svc.Answer(context.Background(), "Acme", "q")
	require.NoError(t, err)
	assert.Equal(t, "backup", ans.Model)
	assert.Equal(t, []string{"primary", "backup"}, comp.calls)
}

func TestAnswer_AllRateLimited(t *testing.T) {
	comp := &fakeCompleter{status: map[string]int{"a": 429, "b": 429}}
	svc, err := New(&fakeRetriever{results: policyResults()}, comp, Config{Models: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), "Acme", "q")
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	assert.ErrorIs(t, err, errs.ErrExternal)
}

func TestAnswer_OtherErrorsDoNotFallBack(t *testing.T) {
	comp := &fakeCompleter{status: map[string]int{"a": http.StatusBadGateway}}
	svc, err := New(&fakeRetriever{results: policyResults()}, comp, Config{Models: []string{"a", "b"}}, nil)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), "Acme", "q")
	var ext *errs.ExternalError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, http.StatusBadGateway, ext.Status)
	assert.Equal(t, []string{"a"}, comp.calls)
}

func TestAnswer_RetrievalErrorPassesThrough(t *testing.T) {
	notReady := errs.NotReady("query", "Acme", nil)
	comp := &fakeCompleter{}
	svc, err := New(&fakeRetriever{err: notReady}, comp, Config{Models: []string{"a"}}, nil)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), "Acme", "q")
	assert.ErrorIs(t, err, errs.ErrNotReady)
	assert.Empty(t, comp.calls)
}

func TestAnswer_BreakerOpens(t *testing.T) {
	comp := &fakeCompleter{status: map[string]int{"a": http.StatusInternalServerError}}
	svc, err := New(&fakeRetriever{results: policyResults()}, comp,
		Config{Models: []string{"a"}, Breaker: BreakerConfig{Failures: 2}}, nil)
	require.NoError(t, err)

	for range 2 {
		_, err := svc.Answer(context.Background(), "Acme", "q")
		require.Error(t, err)
	}
	_, err = svc.Answer(context.Background(), "Acme", "q")
	var ext *errs.ExternalError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, http.StatusServiceUnavailable, ext.Status)
	assert.Len(t, comp.calls, 2, "open breaker short-circuits the backend")
}

func TestAnswer_RateLimitsDoNotTripBreaker(t *testing.T) {
	comp := &fakeCompleter{status: map[string]int{"a": 429}}
	svc, err := New(&fakeRetriever{results: policyResults()}, comp,
		Config{Models: []string{"a", "b"}, Breaker: BreakerConfig{Failures: 1}}, nil)
	require.NoError(t, err)

	for range 3 {
		ans, err := svc.Answer(context.Background(), "Acme", "q")
		require.NoError(t, err)
		assert.Equal(t, "b", ans.Model)
	}
}

func TestNew_RequiresModels(t *testing.T) {
	_, err := New(&fakeRetriever{}, &fakeCompleter{}, Config{}, nil)
	assert.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name      string
		texts     []string
		max       int
		want      string
		truncated bool
	}{
		{"fits", []string{"ab", "cd"}, 10, "ab\n\ncd", false},
		{"exact", []string{"ab", "cd"}, 6, "ab\n\ncd", false},
		{"drops tail", []string{"ab", "cd", "ef"}, 7, "ab\n\ncd", true},
		{"cuts first", []string{"abcdef"}, 3, "abc", true},
		{"runes", []string{"héllo"}, 2, "hé", true},
		{"empty", nil, 10, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := BuildContext(tt.texts, tt.max)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.truncated, truncated)
		})
	}

	long := strings.Repeat("x", 5000)
	got, truncated := BuildContext([]string{long, long}, 0)
	assert.True(t, truncated)
	assert.Len(t, got, 5000)
}
