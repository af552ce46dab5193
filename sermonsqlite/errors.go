// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound is returned by LocalStore.Get when no record exists
	ErrRecordNotFound = errors.New("record not found")
	// ErrNotFoundOnDelete marks a remote delete answered with 404; the push treats it as success
	ErrNotFoundOnDelete = errors.New("record already absent on remote")
	// ErrConflictNotFound is returned when resolving an unknown conflict id
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrConflictResolved is returned when resolving a conflict twice
	ErrConflictResolved = errors.New("conflict already resolved")
	// ErrSyncCancelled is recorded when a session stops because of Cancel or context cancellation
	ErrSyncCancelled = errors.New("sync cancelled")
)

// ValidationError is a per-record failure detected before any network call.
// The record stays dirty and is retried on the next cycle.
type ValidationError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ReferentialIntegrityGap means a sermon references a series that does not exist locally
// or is deleted. It is reported as a validation failure.
type ReferentialIntegrityGap struct {
	SermonID string
	SeriesID string
	Reason   string
}

func (e *ReferentialIntegrityGap) Error() string {
	return fmt.Sprintf("sermon %s references %s series %s", e.SermonID, e.Reason, e.SeriesID)
}

// PipelineError is an infrastructure failure that aborts a sync stage
type PipelineError struct {
	Phase Phase
	Kind  Kind
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Phase, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func pipelineError(phase Phase, kind Kind, err error) *PipelineError {
	return &PipelineError{Phase: phase, Kind: kind, Err: err}
}
