// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/leseb/docqa/pkg/chunker"
)

// Store is an opened, read-only tenant store held in memory.
type Store struct {
	dir     string
	meta    Meta
	entries []entry
}

type entry struct {
	seq    int
	chunk  chunker.Chunk
	vector []float32
	norm   float64
}

// Exists reports whether dir holds a store file.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && info.Mode().IsRegular()
}

// Open loads the store in dir. It returns ErrNoStore when there is no store
// file; any other error should be checked with IsCorruption.
func Open(ctx context.Context, dir string) (*Store, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoStore
		}
		return nil, fmt.Errorf("stat vector store: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT seq, chunk_id, tenant, source, page, char_offset, chunk_index, content, embedding
		 FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	s := &Store{dir: dir, meta: meta, entries: make([]entry, 0, meta.ChunkCount)}
	for rows.Next() {
		var (
			e    entry
			blob []byte
		)
		if err := rows.Scan(&e.seq, &e.chunk.ID, &e.chunk.Tenant, &e.chunk.Source,
			&e.chunk.Page, &e.chunk.Offset, &e.chunk.Index, &e.chunk.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		e.vector, err = decodeVector(blob, meta.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", e.chunk.ID, err)
		}
		e.norm = norm(e.vector)
		s.entries = append(s.entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	if len(s.entries) != meta.ChunkCount {
		return nil, fmt.Errorf("%w: meta records %d chunks, found %d", ErrMalformed, meta.ChunkCount, len(s.entries))
	}
	return s, nil
}

func readMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, fmt.Errorf("read store meta: %w", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, fmt.Errorf("scan store meta: %w", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, fmt.Errorf("read store meta: %w", err)
	}

	var m Meta
	ints := map[string]*int{
		"schema_version": &m.SchemaVersion,
		"dimensions":     &m.Dimensions,
		"chunk_count":    &m.ChunkCount,
	}
	for key, dst := range ints {
		n, err := strconv.Atoi(kv[key])
		if err != nil {
			return Meta{}, fmt.Errorf("%w: meta %s = %q", ErrMalformed, key, kv[key])
		}
		*dst = n
	}
	if m.SchemaVersion != SchemaVersion {
		return Meta{}, fmt.Errorf("%w: schema version %d, want %d", ErrMalformed, m.SchemaVersion, SchemaVersion)
	}
	if m.Dimensions <= 0 {
		return Meta{}, fmt.Errorf("%w: dimensions %d", ErrMalformed, m.Dimensions)
	}
	m.Tenant = kv["tenant"]
	m.Embedder = kv["embedder"]
	if ts, err := time.Parse(time.RFC3339Nano, kv["created_at"]); err == nil {
		m.CreatedAt = ts
	}
	return m, nil
}

// Dir returns the directory the store was opened from.
func (s *Store) Dir() string { return s.dir }

// Meta returns the store metadata.
func (s *Store) Meta() Meta { return s.meta }

// Len returns the number of chunks.
func (s *Store) Len() int { return len(s.entries) }

// Sources returns the distinct source filenames in insertion order.
func (s *Store) Sources() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range s.entries {
		if !seen[e.chunk.Source] {
			seen[e.chunk.Source] = true
			out = append(out, e.chunk.Source)
		}
	}
	return out
}

// Search returns the k chunks most similar to query by cosine similarity,
// highest first. Equal scores keep insertion order.
func (s *Store) Search(query []float32, k int) ([]Result, error) {
	if len(query) != s.meta.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", ErrDimensions, len(query), s.meta.Dimensions)
	}
	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}

	qn := norm(query)
	results := make([]Result, len(s.entries))
	for i, e := range s.entries {
		results[i] = Result{Chunk: e.chunk, Seq: e.seq, Score: cosine(query, qn, e.vector, e.norm)}
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte, dims int) ([]float32, error) {
	if len(buf) != 4*dims {
		return nil, fmt.Errorf("%w: embedding has %d bytes, want %d", ErrMalformed, len(buf), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
