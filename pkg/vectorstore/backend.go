// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package vectorstore persists a tenant's embedded chunks in a directory and
// answers similarity queries over them.
//
// A store is a single SQLite file, store.db, inside the store directory. It is
// written once by Build and never modified afterwards; ingestion replaces the
// whole directory. Open reads every row into memory and closes the database,
// so an open Store holds no file descriptors.
package vectorstore

import (
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/leseb/docqa/pkg/chunker"
)

// FileName is the database file inside a store directory.
const FileName = "store.db"

// SchemaVersion is written into every store and checked on open.
const SchemaVersion = 1

var (
	// ErrNoStore means the directory holds no store file.
	ErrNoStore = errors.New("no vector store")

	// ErrMalformed means the store file exists but its content is inconsistent.
	ErrMalformed = errors.New("malformed vector store")

	// ErrDimensions means a vector does not match the store's dimensions.
	ErrDimensions = errors.New("vector dimension mismatch")
)

// Record is a chunk and its embedding, ready for insertion.
type Record struct {
	Chunk  chunker.Chunk
	Vector []float32
}

// Meta describes a built store.
type Meta struct {
	SchemaVersion int
	Tenant        string
	Embedder      string // embedding.Fingerprint of the provider used at build time
	Dimensions    int
	ChunkCount    int
	CreatedAt     time.Time
}

// Result is a single hit from a similarity search.
type Result struct {
	Chunk chunker.Chunk
	Score float64
	Seq   int // insertion sequence, used to order equal scores
}

// IsCorruption reports whether err carries the signature of a store that
// cannot be read: SQLite corruption or "not a database" codes, missing
// tables, or inconsistent content.
func IsCorruption(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformed) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FORMAT:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{"no such table", "malformed", "not a database", "disk image"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
