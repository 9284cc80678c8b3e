// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Recursive splits on paragraph, line and word boundaries before falling
// back to characters. Windows respect the size limit, but the overlap is
// best effort: it never cuts a word to reach the exact overlap length.
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRecursive returns a Recursive splitter for a profile.
func NewRecursive(p Profile) Recursive {
	size, overlap := clamp(p.Size, p.Overlap)
	return Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

// Split implements Splitter. Offsets are recovered by locating each window
// in the input, searching forward from the previous window.
func (r Recursive) Split(text string) ([]Window, error) {
	parts, err := r.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	windows := make([]Window, 0, len(parts))
	byteCursor, runeCursor := 0, 0
	for _, part := range parts {
		offset := runeCursor
		if i := strings.Index(text[byteCursor:], part); i >= 0 {
			offset = runeCursor + utf8.RuneCountInString(text[byteCursor:byteCursor+i])
			// Next search starts just after this window's first rune so
			// overlapping windows are still found.
			_, size := utf8.DecodeRuneInString(text[byteCursor+i:])
			runeCursor = offset + 1
			byteCursor += i + size
		}
		windows = append(windows, Window{Text: part, Offset: offset})
	}
	return windows, nil
}

// New returns the splitter named by strategy ("fixed" or "recursive").
func New(strategy string, p Profile) (Splitter, error) {
	switch strategy {
	case "", "fixed":
		return NewFixed(p), nil
	case "recursive":
		return NewRecursive(p), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
}
