// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE chunks (
	seq         INTEGER PRIMARY KEY,
	chunk_id    TEXT NOT NULL,
	tenant      TEXT NOT NULL,
	source      TEXT NOT NULL,
	page        INTEGER NOT NULL,
	char_offset INTEGER NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);
CREATE INDEX chunks_source ON chunks(source);
`

// Build writes a new store into dir from records, in order. dir is created
// if needed and must not already hold a store. meta.Dimensions is taken from
// the records when zero; ChunkCount, SchemaVersion and CreatedAt are set by
// Build.
func Build(ctx context.Context, dir string, meta Meta, records []Record) (Meta, error) {
	if len(records) == 0 {
		return Meta{}, fmt.Errorf("build vector store: no records")
	}
	if meta.Dimensions == 0 {
		meta.Dimensions = len(records[0].Vector)
	}
	for i, r := range records {
		if len(r.Vector) != meta.Dimensions {
			return Meta{}, fmt.Errorf("record %d: %w: %d, want %d", i, ErrDimensions, len(r.Vector), meta.Dimensions)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("create store dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return Meta{}, fmt.Errorf("build vector store: %s already exists", path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(DELETE)")
	if err != nil {
		return Meta{}, fmt.Errorf("create vector store: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	meta.SchemaVersion = SchemaVersion
	meta.ChunkCount = len(records)
	meta.CreatedAt = time.Now().UTC()

	if err := write(ctx, db, meta, records); err != nil {
		return Meta{}, err
	}
	if err := db.Close(); err != nil {
		return Meta{}, fmt.Errorf("close vector store: %w", err)
	}
	return meta, nil
}

func write(ctx context.Context, db *sql.DB, meta Meta, records []Record) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (seq, chunk_id, tenant, source, page, char_offset, chunk_index, content, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		c := r.Chunk
		if _, err := stmt.ExecContext(ctx, i, c.ID, c.Tenant, c.Source, c.Page, c.Offset, c.Index, c.Text,
			encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	kv := map[string]string{
		"schema_version": strconv.Itoa(meta.SchemaVersion),
		"tenant":         meta.Tenant,
		"embedder":       meta.Embedder,
		"dimensions":     strconv.Itoa(meta.Dimensions),
		"chunk_count":    strconv.Itoa(meta.ChunkCount),
		"created_at":     meta.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector store: %w", err)
	}
	return nil
}
