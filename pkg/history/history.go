// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package history records ingestion runs per tenant.
package history

import (
	"context"
	"time"

	"github.com/leseb/docqa/pkg/provider"
)

// Providers is the registry of history backends.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/docqa/pkg/history/memory"
//	import _ "github.com/leseb/docqa/pkg/history/sqlite"
//	import _ "github.com/leseb/docqa/pkg/history/postgres"
var Providers = provider.NewRegistry[Store]("history")

// Status is the outcome of an ingestion run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one ingestion attempt for a tenant.
type Run struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant"`
	Status      Status    `json:"status"`
	Documents   int       `json:"documents"`
	FailedFiles []string  `json:"failed_files,omitempty"`
	Chunks      int       `json:"chunks"`
	Dropped     int       `json:"dropped"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// DefaultListLimit caps List when limit <= 0.
const DefaultListLimit = 20

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run *Run) error

	// List returns the tenant's runs, newest first.
	List(ctx context.Context, tenant string, limit int) ([]*Run, error)

	DeleteTenant(ctx context.Context, tenant string) error
	DeleteAll(ctx context.Context) error
	Close() error
}
