// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so TEXT ordering matches chronological ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SQLiteStore is the LocalStore implementation on SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. Call Migrate before first use.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the record tables if they don't exist
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS series (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_date  TEXT,
			end_date    TEXT,
			status      TEXT NOT NULL DEFAULT 'planning',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			deleted_at  TEXT,
			dirty       INTEGER NOT NULL DEFAULT 0,
			operation   TEXT NOT NULL DEFAULT 'upsert' CHECK (operation IN ('upsert','delete')),
			synced_at   TEXT,
			version     INTEGER NOT NULL DEFAULT 0
		)`,
		// series_id has no FOREIGN KEY clause: integrity gaps are repaired by the engine
		`CREATE TABLE IF NOT EXISTS sermons (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			title                TEXT NOT NULL,
			content              TEXT NOT NULL DEFAULT '',
			outline              TEXT NOT NULL DEFAULT '',
			scripture_references TEXT NOT NULL DEFAULT '',
			notes                TEXT NOT NULL DEFAULT '',
			series_id            TEXT,
			status               TEXT NOT NULL DEFAULT 'draft',
			visibility           TEXT NOT NULL DEFAULT 'private',
			tags                 TEXT NOT NULL DEFAULT '[]',
			date_delivered       TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,
			deleted_at           TEXT,
			dirty                INTEGER NOT NULL DEFAULT 0,
			operation            TEXT NOT NULL DEFAULT 'upsert' CHECK (operation IN ('upsert','delete')),
			synced_at            TEXT,
			version              INTEGER NOT NULL DEFAULT 0,
			repair_pending       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS series_user_dirty_idx ON series(user_id, dirty)`,
		`CREATE INDEX IF NOT EXISTS sermons_user_dirty_idx ON sermons(user_id, dirty)`,
		`CREATE INDEX IF NOT EXISTS sermons_series_idx ON sermons(series_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create record table: %w", err)
		}
	}
	return nil
}

const (
	seriesSelect = `SELECT id, user_id, title, description, start_date, end_date, status, created_at, updated_at,
		deleted_at, dirty, operation, synced_at, version FROM series`
	sermonsSelect = `SELECT id, user_id, title, content, outline, scripture_references, notes, series_id, status,
		visibility, tags, date_delivered, created_at, updated_at, deleted_at, dirty, operation, synced_at, version,
		repair_pending FROM sermons`
)

func tableName(kind Kind) (string, error) {
	switch kind {
	case KindSeries:
		return "series", nil
	case KindSermon:
		return "sermons", nil
	default:
		return "", fmt.Errorf("unknown kind %q", kind)
	}
}

// Query returns records matching p ordered by (updated_at, id)
func (s *SQLiteStore) Query(ctx context.Context, kind Kind, p Predicate) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if p.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, p.UserID)
	}
	if p.DirtyOnly {
		where = append(where, "dirty = 1")
	}
	if p.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(p.Operation))
	}
	if !p.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if kind == KindSermon {
		if p.NullParent {
			where = append(where, "series_id IS NULL")
		}
		if p.ParentID != "" {
			where = append(where, "series_id = ?")
			args = append(args, p.ParentID)
		}
		if p.RepairPending {
			where = append(where, "repair_pending = 1")
		}
	}

	var query string
	switch kind {
	case KindSeries:
		query = seriesSelect
	case KindSermon:
		query = sermonsSelect
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", kind, err)
	}
	return out, nil
}

// Get returns a record including soft-deleted ones
func (s *SQLiteStore) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	var query string
	switch kind {
	case KindSeries:
		query = seriesSelect + " WHERE id = ?"
	case KindSermon:
		query = sermonsSelect + " WHERE id = ?"
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	r, err := scanRecord(kind, s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	return r, nil
}

// Upsert writes a full record in a single statement
func (s *SQLiteStore) Upsert(ctx context.Context, r Record) error {
	m := r.Meta()
	var (
		query string
		args  []any
	)
	switch v := r.(type) {
	case *Series:
		query = `INSERT INTO series (id, user_id, title, description, start_date, end_date, status, created_at,
				updated_at, deleted_at, dirty, operation, synced_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id, title = excluded.title, description = excluded.description,
				start_date = excluded.start_date, end_date = excluded.end_date, status = excluded.status,
				created_at = excluded.created_at, updated_at = excluded.updated_at, deleted_at = excluded.deleted_at,
				dirty = excluded.dirty, operation = excluded.operation, synced_at = excluded.synced_at,
				version = excluded.version`
		args = []any{
			v.ID, v.UserID, v.Title, v.Description, formatTimePtr(v.StartDate), formatTimePtr(v.EndDate), v.Status,
			formatTime(v.CreatedAt), formatTime(v.UpdatedAt), formatTimePtr(m.DeletedAt), boolInt(m.Dirty),
			string(operationOrDefault(m.Operation)), formatTimePtr(m.SyncedAt), m.Version,
		}
	case *Sermon:
		tags := v.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		var seriesID any
		if v.SeriesID != nil {
			seriesID = *v.SeriesID
		}
		query = `INSERT INTO sermons (id, user_id, title, content, outline, scripture_references, notes, series_id,
				status, visibility, tags, date_delivered, created_at, updated_at, deleted_at, dirty, operation,
				synced_at, version, repair_pending)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id, title = excluded.title, content = excluded.content,
				outline = excluded.outline, scripture_references = excluded.scripture_references,
				notes = excluded.notes, series_id = excluded.series_id, status = excluded.status,
				visibility = excluded.visibility, tags = excluded.tags, date_delivered = excluded.date_delivered,
				created_at = excluded.created_at, updated_at = excluded.updated_at, deleted_at = excluded.deleted_at,
				dirty = excluded.dirty, operation = excluded.operation, synced_at = excluded.synced_at,
				version = excluded.version, repair_pending = excluded.repair_pending`
		args = []any{
			v.ID, v.UserID, v.Title, v.Content, v.Outline, v.ScriptureReferences, v.Notes, seriesID,
			v.Status, v.Visibility, string(tagsJSON), formatTimePtr(v.DateDelivered), formatTime(v.CreatedAt),
			formatTime(v.UpdatedAt), formatTimePtr(m.DeletedAt), boolInt(m.Dirty),
			string(operationOrDefault(m.Operation)), formatTimePtr(m.SyncedAt), m.Version, boolInt(m.RepairPending),
		}
	default:
		return fmt.Errorf("unsupported record %T", r)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	return nil
}

var rawUpdateColumns = map[Kind]map[string]bool{
	KindSeries: {
		ColDirty: true, ColOperation: true, ColSyncedAt: true, ColDeletedAt: true, ColUpdatedAt: true,
	},
	KindSermon: {
		ColDirty: true, ColOperation: true, ColSyncedAt: true, ColDeletedAt: true, ColUpdatedAt: true,
		ColSeriesID: true, ColRepairPending: true,
	},
}

// RawUpdate writes a column subset; version is left untouched
func (s *SQLiteStore) RawUpdate(ctx context.Context, kind Kind, id string, fields Fields) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if !rawUpdateColumns[kind][col] {
			return fmt.Errorf("column %q cannot be updated on %s", col, kind)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	for _, col := range columns {
		v, err := sqlValue(fields[col])
		if err != nil {
			return fmt.Errorf("invalid value for %s.%s: %w", kind, col, err)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return boolInt(x), nil
	case string, int, int64:
		return x, nil
	case Operation:
		return string(x), nil
	case time.Time:
		return formatTime(x), nil
	case *time.Time:
		return formatTimePtr(x), nil
	case *string:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func operationOrDefault(op Operation) Operation {
	if op == "" {
		return OpUpsert
	}
	return op
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(kind Kind, row rowScanner) (Record, error) {
	var (
		createdAt, updatedAt          string
		deletedAt, syncedAt           sql.NullString
		dirty                         int
		operation                     string
		version                       int64
		startDate, endDate, delivered sql.NullString
	)
	switch kind {
	case KindSeries:
		var s Series
		if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.Description, &startDate, &endDate, &s.Status,
			&createdAt, &updatedAt, &deletedAt, &dirty, &operation, &syncedAt, &version); err != nil {
			return nil, err
		}
		var err error
		if s.StartDate, err = parseTimePtr(startDate); err != nil {
			return nil, err
		}
		if s.EndDate, err = parseTimePtr(endDate); err != nil {
			return nil, err
		}
		if err := fillCommon(&s.CreatedAt, &s.UpdatedAt, &s.SyncMeta, createdAt, updatedAt, deletedAt, syncedAt,
			dirty, operation, version); err != nil {
			return nil, err
		}
		return &s, nil
	case KindSermon:
		var (
			s             Sermon
			seriesID      sql.NullString
			tagsJSON      string
			repairPending int
		)
		if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.Content, &s.Outline, &s.ScriptureReferences, &s.Notes,
			&seriesID, &s.Status, &s.Visibility, &tagsJSON, &delivered, &createdAt, &updatedAt, &deletedAt, &dirty,
			&operation, &syncedAt, &version, &repairPending); err != nil {
			return nil, err
		}
		if seriesID.Valid {
			id := seriesID.String
			s.SeriesID = &id
		}
		if err := json.Unmarshal([]byte(tagsJSON), &s.Tags); err != nil {
			return nil, fmt.Errorf("invalid tags for sermon %s: %w", s.ID, err)
		}
		var err error
		if s.DateDelivered, err = parseTimePtr(delivered); err != nil {
			return nil, err
		}
		if err := fillCommon(&s.CreatedAt, &s.UpdatedAt, &s.SyncMeta, createdAt, updatedAt, deletedAt, syncedAt,
			dirty, operation, version); err != nil {
			return nil, err
		}
		s.RepairPending = repairPending == 1
		return &s, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func fillCommon(created, updated *time.Time, meta *SyncMeta, createdAt, updatedAt string,
	deletedAt, syncedAt sql.NullString, dirty int, operation string, version int64) error {
	var err error
	if *created, err = parseTime(createdAt); err != nil {
		return err
	}
	if *updated, err = parseTime(updatedAt); err != nil {
		return err
	}
	if meta.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return err
	}
	if meta.SyncedAt, err = parseTimePtr(syncedAt); err != nil {
		return err
	}
	meta.Dirty = dirty == 1
	meta.Operation = Operation(operation)
	meta.Version = version
	return nil
}
