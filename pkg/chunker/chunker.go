// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunker splits extracted document text into overlapping windows
// and keeps enough metadata to trace each window back to its source page.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leseb/docqa/pkg/loader"
)

// DefaultChunkSize is the default chunk size in characters.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default overlap between chunks in characters.
const DefaultChunkOverlap = 200

// Profile is a (size, overlap) pair.
type Profile struct {
	Size    int
	Overlap int
}

// Named profiles. "compact" is for memory-constrained deployments.
var profiles = map[string]Profile{
	"default": {Size: DefaultChunkSize, Overlap: DefaultChunkOverlap},
	"compact": {Size: 800, Overlap: 100},
}

// ProfileFor resolves a named profile. The empty name is "default".
func ProfileFor(name string) (Profile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown chunk profile %q", name)
	}
	return p, nil
}

// Chunk is one embeddable window of a source document.
type Chunk struct {
	ID     string
	Tenant string
	Source string
	Page   int // page holding the first character, 1-based
	Offset int // rune offset in the joined document text
	Index  int // position within the source document
	Text   string
}

// Window is a piece of text and its rune offset within the split input.
type Window struct {
	Text   string
	Offset int
}

// Splitter turns a text into windows.
type Splitter interface {
	Split(text string) ([]Window, error)
}

// ChunkText splits text into fixed-size chunks with configurable overlap.
// chunkSize and overlap are in characters (runes), so chunk i+1 always starts
// with the last overlap characters of chunk i. If chunkSize <= 0,
// DefaultChunkSize is used. If overlap < 0 or >= chunkSize,
// DefaultChunkOverlap is used (clamped to < chunkSize).
func ChunkText(text string, chunkSize, overlap int) []string {
	windows := fixedWindows(text, chunkSize, overlap)
	if windows == nil {
		return nil
	}
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = w.Text
	}
	return out
}

func fixedWindows(text string, chunkSize, overlap int) []Window {
	chunkSize, overlap = clamp(chunkSize, overlap)

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - overlap
	if step <= 0 {
		step = 1
	}

	var windows []Window
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, Window{Text: string(runes[start:end]), Offset: start})
		if end == len(runes) {
			break
		}
	}
	return windows
}

func clamp(chunkSize, overlap int) (int, int) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 4
		}
	}
	return chunkSize, overlap
}

// Fixed is the fixed-window splitter.
type Fixed struct {
	Size    int
	Overlap int
}

// NewFixed returns a Fixed splitter for a profile.
func NewFixed(p Profile) Fixed {
	return Fixed{Size: p.Size, Overlap: p.Overlap}
}

// Split implements Splitter.
func (f Fixed) Split(text string) ([]Window, error) {
	return fixedWindows(text, f.Size, f.Overlap), nil
}

// ChunkDocument joins the pages of one source, splits the result and attaches
// tenant, source, page and offset metadata to every window. A document with
// no pages yields no chunks.
func ChunkDocument(s Splitter, tenant, source string, pages []loader.Page) ([]Chunk, error) {
	if len(pages) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	starts := make([]int, len(pages)) // rune offset at which each page begins
	offset := 0
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n")
			offset++
		}
		starts[i] = offset
		sb.WriteString(p.Text)
		offset += len([]rune(p.Text))
	}

	windows, err := s.Split(sb.String())
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", source, err)
	}

	chunks := make([]Chunk, 0, len(windows))
	for _, w := range windows {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		// Last page whose start is <= w.Offset.
		idx := sort.Search(len(starts), func(i int) bool { return starts[i] > w.Offset }) - 1
		if idx < 0 {
			idx = 0
		}
		chunks = append(chunks, Chunk{
			ID:     fmt.Sprintf("%s_chunk_%d", source, len(chunks)),
			Tenant: tenant,
			Source: source,
			Page:   pages[idx].Number,
			Offset: w.Offset,
			Index:  len(chunks),
			Text:   w.Text,
		})
	}
	return chunks, nil
}
