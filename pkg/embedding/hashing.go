// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultHashingDimensions is the vector size of the hashing backend.
const DefaultHashingDimensions = 384

func init() {
	Providers.Register("hashing", func(_ context.Context, params map[string]string) (Provider, error) {
		dims := DefaultHashingDimensions
		if v := params["dimensions"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("hashing: invalid dimensions %q", v)
			}
			dims = n
		}
		return NewHashing(dims), nil
	})
}

// Hashing is a local, deterministic embedding model. Each token is hashed
// into one of Dimensions buckets with a hashed sign, term frequencies are
// dampened logarithmically and the result is L2-normalised, so the dot
// product of two vectors is their cosine similarity. It needs no network
// and is safe for concurrent use.
type Hashing struct {
	dims int
}

var _ Provider = (*Hashing)(nil)

// NewHashing creates a hashing provider with the given vector size.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Name() string    { return "hashing" }
func (h *Hashing) Dimensions() int { return h.dims }

func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}

	vec := make([]float64, h.dims)
	for tok, n := range counts {
		sum := fnv.New64a()
		sum.Write([]byte(tok))
		v := sum.Sum64()
		bucket := int(v % uint64(h.dims))
		weight := 1 + math.Log(float64(n))
		if v&(1<<63) != 0 {
			weight = -weight
		}
		vec[bucket] += weight
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range vec {
		out[i] = float32(x / norm)
	}
	return out
}

// Tokenize lowercases text and splits it into letter/digit runs, dropping
// stopwords. Digit groups separated by "," or "." stay together so that
// "$50,000" yields "50,000".
func Tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	runes := []rune(strings.ToLower(text))
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if !stopwords[tok] {
			tokens = append(tokens, tok)
		}
	}
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case (r == ',' || r == '.') && cur.Len() > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i+1]) && i > 0 && unicode.IsDigit(runes[i-1]):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

var stopwords = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(`a an and are as at be but by for from has have how
		i if in into is it its of on or our so such that the their then there these
		this to was what when where which who why will with you your does do did up`) {
		m[w] = true
	}
	return m
}()
