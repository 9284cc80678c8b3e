// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package errs defines the error kinds shared by ingestion, retrieval and the
// store lifecycle. Callers branch on kinds with errors.Is; the kind decides
// the remediation (fix inputs, run ingestion, retry later).
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kinds.
var (
	// ErrInput marks user-correctable failures: unknown tenant, no PDFs,
	// nothing extractable. Never retried.
	ErrInput = errors.New("invalid input")

	// ErrNotReady means the tenant exists but has no usable store yet.
	ErrNotReady = errors.New("store not ready")

	// ErrCorrupted marks storage backend failures: a store directory that is
	// present but cannot be opened, verified, or removed.
	ErrCorrupted = errors.New("storage backend failure")

	// ErrTransient marks a first-attempt storage failure without a
	// corruption signature. Retried with bounded backoff.
	ErrTransient = errors.New("transient storage failure")

	// ErrExternal marks failures of a remote service (embedding or completion API).
	ErrExternal = errors.New("external service failure")

	// ErrBusy means the tenant is being rebuilt or otherwise locked.
	ErrBusy = errors.New("tenant busy")
)

// Conditions.
var (
	ErrInvalidTenant     = errors.New("invalid tenant name")
	ErrTenantUnknown     = errors.New("tenant not found")
	ErrTenantExists      = errors.New("tenant already exists")
	ErrNoDocuments       = errors.New("no documents found")
	ErrNoChunks          = errors.New("no chunks produced")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrRelearnInProgress = errors.New("relearn already in progress")
	ErrRebuilding        = errors.New("store is rebuilding, retry shortly")
	ErrRateLimited       = errors.New("rate limited")
	ErrEmptyQuery        = errors.New("empty query")
)

// Error carries a kind, the failing operation and the tenant it concerns.
type Error struct {
	Kind   error
	Op     string
	Tenant string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Tenant != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%q", e.Tenant)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// E builds an *Error.
func E(kind error, op, tenant string, err error) *Error {
	return &Error{Kind: kind, Op: op, Tenant: tenant, Err: err}
}

// Input is shorthand for E(ErrInput, ...).
func Input(op, tenant string, err error) error { return E(ErrInput, op, tenant, err) }

// NotReady is shorthand for E(ErrNotReady, ...).
func NotReady(op, tenant string, err error) error { return E(ErrNotReady, op, tenant, err) }

// Corrupted is shorthand for E(ErrCorrupted, ...).
func Corrupted(op, tenant string, err error) error { return E(ErrCorrupted, op, tenant, err) }

// Busy is shorthand for E(ErrBusy, ...).
func Busy(op, tenant string, err error) error { return E(ErrBusy, op, tenant, err) }

// ExternalError is a failed call to a remote service with its HTTP-like status.
type ExternalError struct {
	Service string
	Model   string
	Status  int
	Err     error
}

func (e *ExternalError) Error() string {
	msg := e.Service
	if e.Model != "" {
		msg += " (" + e.Model + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" returned status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrExternal, ErrRateLimited for 429s, and the cause.
func (e *ExternalError) Unwrap() []error {
	out := []error{ErrExternal}
	if e.Status == http.StatusTooManyRequests {
		out = append(out, ErrRateLimited)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsRateLimited reports whether err is a rate-limit response from a remote service.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrInput, ErrNotReady, ErrCorrupted, ErrTransient, ErrBusy, ErrExternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
