// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConflictStatus is the lifecycle state of a pending conflict
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// PendingConflict is a local/remote divergence that needs a user decision
type PendingConflict struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	EntityID   string          `json:"entity_id"`
	Local      json.RawMessage `json:"local"`
	Remote     json.RawMessage `json:"remote"`
	Fields     []string        `json:"fields"`
	Reason     string          `json:"reason"`
	Status     ConflictStatus  `json:"status"`
	Resolution Resolution      `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// SyncState persists watermarks, the last sync time and pending conflicts
type SyncState struct {
	db *sql.DB
}

// NewSyncState wraps an open database. Call Migrate before first use.
func NewSyncState(db *sql.DB) *SyncState {
	return &SyncState{db: db}
}

// Migrate creates the state tables if they don't exist
func (s *SyncState) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS _sync_state (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _sync_conflicts (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			local       TEXT NOT NULL,
			remote      TEXT NOT NULL,
			fields      TEXT NOT NULL DEFAULT '[]',
			reason      TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','resolved')),
			resolution  TEXT,
			created_at  TEXT NOT NULL,
			resolved_at TEXT
		)`,
		// At most one pending conflict per entity
		`CREATE UNIQUE INDEX IF NOT EXISTS _sync_conflicts_pending_idx
			ON _sync_conflicts(kind, entity_id) WHERE status = 'pending'`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create sync state table: %w", err)
		}
	}
	return nil
}

func watermarkKey(kind Kind) string { return "watermark:" + string(kind) }

const lastSyncKey = "last_sync_time"

func (s *SyncState) getTime(ctx context.Context, key string) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && value == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return &t, nil
}

func (s *SyncState) setTime(ctx context.Context, key string, t time.Time) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, formatTime(t), now)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Watermark returns the start time of the last completed pull for kind; nil means never pulled
func (s *SyncState) Watermark(ctx context.Context, kind Kind) (*time.Time, error) {
	return s.getTime(ctx, watermarkKey(kind))
}

// SetWatermark stores the pull watermark for kind
func (s *SyncState) SetWatermark(ctx context.Context, kind Kind, t time.Time) error {
	return s.setTime(ctx, watermarkKey(kind), t)
}

// ResetWatermark forces the next pull of kind to fetch everything
func (s *SyncState) ResetWatermark(ctx context.Context, kind Kind) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _sync_state WHERE key = ?`, watermarkKey(kind)); err != nil {
		return fmt.Errorf("failed to reset watermark for %s: %w", kind, err)
	}
	return nil
}

// LastSyncTime returns the completion time of the last successful full sync
func (s *SyncState) LastSyncTime(ctx context.Context) (*time.Time, error) {
	return s.getTime(ctx, lastSyncKey)
}

// SetLastSyncTime stores the completion time of a full sync
func (s *SyncState) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.setTime(ctx, lastSyncKey, t)
}

// AddConflict records a pending conflict unless one is already pending for the entity.
// Returns false when an existing pending conflict was kept.
func (s *SyncState) AddConflict(ctx context.Context, c *PendingConflict) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = ConflictPending
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return false, fmt.Errorf("failed to encode conflict fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO _sync_conflicts (id, kind, entity_id, local, remote, fields, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		c.ID, string(c.Kind), c.EntityID, string(c.Local), string(c.Remote), string(fields), c.Reason,
		formatTime(c.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert conflict for %s %s: %w", c.Kind, c.EntityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert conflict for %s %s: %w", c.Kind, c.EntityID, err)
	}
	return n > 0, nil
}

const conflictColumns = `id, kind, entity_id, local, remote, fields, reason, status, resolution, created_at, resolved_at`

func scanConflict(row rowScanner) (*PendingConflict, error) {
	var (
		c                      PendingConflict
		kind, local, remote    string
		fields, status         string
		resolution, resolvedAt sql.NullString
		createdAt              string
	)
	if err := row.Scan(&c.ID, &kind, &c.EntityID, &local, &remote, &fields, &c.Reason, &status, &resolution,
		&createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	c.Kind = Kind(kind)
	c.Local = json.RawMessage(local)
	c.Remote = json.RawMessage(remote)
	c.Status = ConflictStatus(status)
	c.Resolution = Resolution(resolution.String)
	if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
		return nil, fmt.Errorf("invalid conflict fields: %w", err)
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// PendingConflicts lists unresolved conflicts, oldest first
func (s *SyncState) PendingConflicts(ctx context.Context) ([]*PendingConflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conflictColumns+` FROM _sync_conflicts
		WHERE status = 'pending' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var out []*PendingConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Conflict returns a conflict by id, or ErrConflictNotFound
func (s *SyncState) Conflict(ctx context.Context, id string) (*PendingConflict, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM _sync_conflicts WHERE id = ?`, strings.TrimSpace(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conflict %s: %w", id, err)
	}
	return c, nil
}

// HasPendingConflict reports whether an unresolved conflict exists for the entity
func (s *SyncState) HasPendingConflict(ctx context.Context, kind Kind, entityID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM _sync_conflicts
		WHERE kind = ? AND entity_id = ? AND status = 'pending'`, string(kind), entityID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts for %s %s: %w", kind, entityID, err)
	}
	return n > 0, nil
}

// MarkConflictResolved closes a pending conflict
func (s *SyncState) MarkConflictResolved(ctx context.Context, id string, resolution Resolution, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE _sync_conflicts SET status = 'resolved', resolution = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'`, string(resolution), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflictResolved
	}
	return nil
}

// CountPendingConflicts returns the number of unresolved conflicts
func (s *SyncState) CountPendingConflicts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM _sync_conflicts WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}
