// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
)

// LocalStore is the record storage the sync engine works against
type LocalStore interface {
	// Query returns records matching p ordered by (updated_at, id)
	Query(ctx context.Context, kind Kind, p Predicate) ([]Record, error)
	// Get returns a record including soft-deleted ones, or ErrRecordNotFound
	Get(ctx context.Context, kind Kind, id string) (Record, error)
	// Upsert writes a full record including its sync overlay
	Upsert(ctx context.Context, r Record) error
	// RawUpdate writes a subset of columns without touching version
	RawUpdate(ctx context.Context, kind Kind, id string, fields Fields) error
}

// Predicate filters LocalStore.Query
type Predicate struct {
	UserID         string
	DirtyOnly      bool
	Operation      Operation // empty matches any
	IncludeDeleted bool
	NullParent     bool   // sermons only: series_id IS NULL
	ParentID       string // sermons only: series_id = ParentID
	RepairPending  bool   // sermons only: repair_pending = 1
}

// Fields is a column subset for LocalStore.RawUpdate. Keys are column names; values are
// bool, string, int64, time.Time, *time.Time, *string or nil.
type Fields map[string]any

// Column names accepted by RawUpdate
const (
	ColDirty         = "dirty"
	ColOperation     = "operation"
	ColSyncedAt      = "synced_at"
	ColDeletedAt     = "deleted_at"
	ColUpdatedAt     = "updated_at"
	ColSeriesID      = "series_id"
	ColRepairPending = "repair_pending"
)
