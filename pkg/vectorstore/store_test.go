// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leseb/docqa/pkg/chunker"
)

func record(source string, idx int, text string, vec ...float32) Record {
	return Record{
		Chunk: chunker.Chunk{
			ID:     source + "_chunk_" + string(rune('0'+idx)),
			Tenant: "Acme",
			Source: source,
			Page:   idx + 1,
			Offset: idx * 800,
			Index:  idx,
			Text:   text,
		},
		Vector: vec,
	}
}

func buildStore(t *testing.T, records ...Record) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Acme")
	_, err := Build(context.Background(), dir, Meta{Tenant: "Acme", Embedder: "hashing/3"}, records)
	require.NoError(t, err)
	return dir
}

func TestBuildOpen_RoundTrip(t *testing.T) {
	dir := buildStore(t,
		record("auto.pdf", 0, "collision up to $50,000", 1, 0, 0),
		record("home.pdf", 1, "fire damage", 0, 1, 0),
	)
	assert.True(t, Exists(dir))

	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, dir, s.Dir())

	m := s.Meta()
	assert.Equal(t, SchemaVersion, m.SchemaVersion)
	assert.Equal(t, "Acme", m.Tenant)
	assert.Equal(t, "hashing/3", m.Embedder)
	assert.Equal(t, 3, m.Dimensions)
	assert.Equal(t, 2, m.ChunkCount)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, []string{"auto.pdf", "home.pdf"}, s.Sources())

	res, err := s.Search([]float32{1, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "auto.pdf", res[0].Chunk.Source)
	assert.Equal(t, "collision up to $50,000", res[0].Chunk.Text)
	assert.Equal(t, 1, res[0].Chunk.Page)
	assert.Equal(t, "Acme", res[0].Chunk.Tenant)
	assert.Greater(t, res[0].Score, 0.9)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	dir := buildStore(t,
		record("a.pdf", 0, "one", 0, 1, 0),
		record("b.pdf", 1, "two", 1, 0, 0),
		record("c.pdf", 2, "three", 1, 0, 0),
		record("d.pdf", 3, "four", 1, 0, 0),
	)
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)

	for range 5 {
		res, err := s.Search([]float32{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, []string{"b.pdf", "c.pdf", "d.pdf"},
			[]string{res[0].Chunk.Source, res[1].Chunk.Source, res[2].Chunk.Source})
	}
}

func TestSearch_KLargerThanStore(t *testing.T) {
	dir := buildStore(t, record("a.pdf", 0, "one", 1, 0, 0))
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)

	res, err := s.Search([]float32{1, 0, 0}, 4)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	res, err = s.Search([]float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestSearch_ZeroQueryScoresZero(t *testing.T) {
	dir := buildStore(t, record("a.pdf", 0, "one", 1, 0, 0), record("b.pdf", 1, "two", 0, 1, 0))
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)

	res, err := s.Search([]float32{0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Zero(t, res[0].Score)
	assert.Equal(t, "a.pdf", res[0].Chunk.Source)
}

func TestBuild_Rejects(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Build(ctx, dir, Meta{}, nil)
	assert.Error(t, err)

	_, err = Build(ctx, dir, Meta{}, []Record{record("a.pdf", 0, "x", 1, 0), record("a.pdf", 1, "y", 1)})
	assert.ErrorIs(t, err, ErrDimensions)

	_, err = Build(ctx, dir, Meta{}, []Record{record("a.pdf", 0, "x", 1, 0)})
	require.NoError(t, err)
	_, err = Build(ctx, dir, Meta{}, []Record{record("a.pdf", 0, "x", 1, 0)})
	assert.ErrorContains(t, err, "already exists")
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, t.TempDir(), Meta{}, []Record{record("a.pdf", 0, "x", 1)})
	assert.Error(t, err)
}

func TestOpen_NoStore(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoStore)
	assert.False(t, IsCorruption(err))

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestOpen_Corruption(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"garbage", []byte("this is definitely not an sqlite database, just bytes on disk")},
		{"empty file", []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), tt.content, 0o644))

			_, err := Open(context.Background(), dir)
			require.Error(t, err)
			assert.True(t, IsCorruption(err), "error %v should be classified as corruption", err)
		})
	}
}

func TestOpen_TruncatedFile(t *testing.T) {
	dir := buildStore(t, record("a.pdf", 0, "one", 1, 0, 0))
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Keep only the first page: the table b-trees live past it.
	require.Greater(t, len(data), 4096)
	require.NoError(t, os.WriteFile(path, data[:4096], 0o644))

	_, err = Open(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, IsCorruption(err), "error %v should be classified as corruption", err)
}

func TestIsCorruption(t *testing.T) {
	assert.False(t, IsCorruption(nil))
	assert.False(t, IsCorruption(errors.New("connection reset")))
	assert.True(t, IsCorruption(ErrMalformed))
	assert.True(t, IsCorruption(errors.New("SQL logic error: no such table: chunks (1)")))
	assert.True(t, IsCorruption(errors.New("database disk image is malformed")))
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, -1.5, 3.25}
	got, err := decodeVector(encodeVector(v), 3)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3}, 1)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPurge(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Acme")
	nested := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("x"), 0o400))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "seg.bin"), []byte("y"), 0o400))
	require.NoError(t, os.Chmod(nested, 0o500))

	require.NoError(t, Purge(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Purge(dir), "purging a missing dir is a no-op")
}
