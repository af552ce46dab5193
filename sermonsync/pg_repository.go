// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores series and sermons in PostgreSQL under the "api" schema
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGRepository creates a repository on an existing pool. Call Migrate before first use.
func NewPGRepository(pool *pgxpool.Pool, logger *slog.Logger) *PGRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRepository{pool: pool, logger: logger}
}

// Migrate creates the api schema and tables if they don't exist
func (r *PGRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS api`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS api.series (
			user_id     TEXT        NOT NULL,
			id          TEXT        NOT NULL,
			title       TEXT        NOT NULL,
			description TEXT        NOT NULL DEFAULT '',
			start_date  TIMESTAMPTZ,
			end_date    TIMESTAMPTZ,
			status      TEXT        NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			deleted_at  TIMESTAMPTZ,
			PRIMARY KEY (user_id, id)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS api.sermons (
			user_id              TEXT        NOT NULL,
			id                   TEXT        NOT NULL,
			title                TEXT        NOT NULL,
			content              TEXT        NOT NULL DEFAULT '',
			outline              TEXT        NOT NULL DEFAULT '',
			scripture_references TEXT        NOT NULL DEFAULT '',
			notes                TEXT        NOT NULL DEFAULT '',
			series_id            TEXT,
			status               TEXT        NOT NULL,
			visibility           TEXT        NOT NULL,
			tags                 TEXT[]      NOT NULL DEFAULT '{}',
			date_delivered       TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL,
			deleted_at           TIMESTAMPTZ,
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS series_user_updated_idx ON api.series(user_id, updated_at, id)`,
		`CREATE INDEX IF NOT EXISTS sermons_user_updated_idx ON api.sermons(user_id, updated_at, id)`,
		`CREATE INDEX IF NOT EXISTS sermons_user_series_idx ON api.sermons(user_id, series_id) WHERE series_id IS NOT NULL`,
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for i, migration := range migrations {
			r.logger.Debug("Running api migration", "step", i+1, "total", len(migrations))
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("api migration %d failed: %w", i+1, err)
			}
		}
		r.logger.Info("API schema initialized successfully", "migrations", len(migrations))
		return nil
	})
}

const (
	seriesColumns  = `id, user_id, title, description, start_date, end_date, status, created_at, updated_at, deleted_at`
	sermonsColumns = `id, user_id, title, content, outline, scripture_references, notes, series_id, status, visibility,
		tags, date_delivered, created_at, updated_at, deleted_at`
)

func (r *PGRepository) List(ctx context.Context, userID string, kind Kind, q ListQuery) ([]Entity, int, error) {
	table, columns, err := tableFor(kind)
	if err != nil {
		return nil, 0, err
	}
	args := pgx.NamedArgs{
		"user_id":         userID,
		"since":           q.UpdatedSince,
		"include_deleted": q.IncludeDeleted,
	}
	where := `user_id = @user_id
		AND (@since::timestamptz IS NULL OR updated_at >= @since::timestamptz)
		AND (@include_deleted::boolean OR deleted_at IS NULL)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM `+table+` WHERE `+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}

	args["limit"] = q.Limit
	args["offset"] = q.offset()
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM `+table+` WHERE `+where+` ORDER BY updated_at, id LIMIT @limit OFFSET @offset`, args)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	entities, err := collectEntities(rows, kind)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan %s: %w", kind, err)
	}
	return entities, total, nil
}

func (r *PGRepository) Get(ctx context.Context, userID string, kind Kind, id string) (Entity, error) {
	return r.get(ctx, r.pool, userID, kind, id)
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepository) get(ctx context.Context, q pgQuerier, userID string, kind Kind, id string) (Entity, error) {
	table, columns, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT `+columns+` FROM `+table+` WHERE user_id = @user_id AND id = @id`,
		pgx.NamedArgs{"user_id": userID, "id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s %s: %w", kind, id, err)
	}
	entities, err := collectEntities(rows, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s %s: %w", kind, id, err)
	}
	if len(entities) == 0 {
		return nil, ErrNotFound
	}
	return entities[0], nil
}

func (r *PGRepository) Create(ctx context.Context, userID string, e Entity) error {
	err := r.write(ctx, userID, e, false)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (r *PGRepository) Update(ctx context.Context, userID string, e Entity) error {
	return r.write(ctx, userID, e, true)
}

func (r *PGRepository) write(ctx context.Context, userID string, e Entity, upsert bool) error {
	var (
		query string
		args  pgx.NamedArgs
	)
	switch v := e.(type) {
	case *SeriesPayload:
		query = `INSERT INTO api.series (` + seriesColumns + `)
			VALUES (@id, @user_id, @title, @description, @start_date, @end_date, @status, @created_at, @updated_at, @deleted_at)`
		if upsert {
			query += ` ON CONFLICT (user_id, id) DO UPDATE SET
				title = EXCLUDED.title, description = EXCLUDED.description,
				start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, status = EXCLUDED.status,
				created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at`
		}
		args = pgx.NamedArgs{
			"id": v.ID, "user_id": userID, "title": v.Title, "description": v.Description,
			"start_date": v.StartDate, "end_date": v.EndDate, "status": v.Status,
			"created_at": v.CreatedAt, "updated_at": v.UpdatedAt, "deleted_at": v.DeletedAt,
		}
	case *SermonPayload:
		query = `INSERT INTO api.sermons (` + sermonsColumns + `)
			VALUES (@id, @user_id, @title, @content, @outline, @scripture_references, @notes, @series_id, @status,
				@visibility, @tags, @date_delivered, @created_at, @updated_at, @deleted_at)`
		if upsert {
			query += ` ON CONFLICT (user_id, id) DO UPDATE SET
				title = EXCLUDED.title, content = EXCLUDED.content, outline = EXCLUDED.outline,
				scripture_references = EXCLUDED.scripture_references, notes = EXCLUDED.notes,
				series_id = EXCLUDED.series_id, status = EXCLUDED.status, visibility = EXCLUDED.visibility,
				tags = EXCLUDED.tags, date_delivered = EXCLUDED.date_delivered,
				created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at`
		}
		tags := v.Tags
		if tags == nil {
			tags = []string{}
		}
		args = pgx.NamedArgs{
			"id": v.ID, "user_id": userID, "title": v.Title, "content": v.Content, "outline": v.Outline,
			"scripture_references": v.ScriptureReferences, "notes": v.Notes, "series_id": v.SeriesID,
			"status": v.Status, "visibility": v.Visibility, "tags": tags, "date_delivered": v.DateDelivered,
			"created_at": v.CreatedAt, "updated_at": v.UpdatedAt, "deleted_at": v.DeletedAt,
		}
	default:
		return ErrUnknownKind
	}
	if _, err := r.pool.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	return nil
}

func (r *PGRepository) SoftDelete(ctx context.Context, userID string, kind Kind, id string, at time.Time) error {
	table, _, err := tableFor(kind)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		args := pgx.NamedArgs{"user_id": userID, "id": id, "at": at}
		tag, err := tx.Exec(ctx, `UPDATE `+table+` SET deleted_at = @at, updated_at = @at
			WHERE user_id = @user_id AND id = @id AND deleted_at IS NULL`, args)
		if err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if kind != KindSeries {
			return nil
		}
		tag, err = tx.Exec(ctx, `UPDATE api.sermons SET series_id = NULL, updated_at = @at
			WHERE user_id = @user_id AND series_id = @id`, args)
		if err != nil {
			return fmt.Errorf("failed to detach sermons of series %s: %w", id, err)
		}
		if n := tag.RowsAffected(); n > 0 {
			r.logger.Debug("Detached sermons from deleted series", "series_id", id, "count", n)
		}
		return nil
	})
}

func tableFor(kind Kind) (table, columns string, err error) {
	switch kind {
	case KindSeries:
		return "api.series", seriesColumns, nil
	case KindSermons:
		return "api.sermons", sermonsColumns, nil
	default:
		return "", "", ErrUnknownKind
	}
}

func collectEntities(rows pgx.Rows, kind Kind) ([]Entity, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entity, error) {
		switch kind {
		case KindSeries:
			var p SeriesPayload
			err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.StartDate, &p.EndDate, &p.Status,
				&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
			return normalizeTimes(&p), err
		default:
			var p SermonPayload
			err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Content, &p.Outline, &p.ScriptureReferences, &p.Notes,
				&p.SeriesID, &p.Status, &p.Visibility, &p.Tags, &p.DateDelivered, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
			return normalizeTimes(&p), err
		}
	})
}

// normalizeTimes converts scanned timestamps to UTC so JSON output is stable across servers
func normalizeTimes(e Entity) Entity {
	utc := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		u := t.UTC()
		return &u
	}
	switch v := e.(type) {
	case *SeriesPayload:
		v.StartDate, v.EndDate, v.DeletedAt = utc(v.StartDate), utc(v.EndDate), utc(v.DeletedAt)
		v.CreatedAt, v.UpdatedAt = v.CreatedAt.UTC(), v.UpdatedAt.UTC()
	case *SermonPayload:
		v.DateDelivered, v.DeletedAt = utc(v.DateDelivered), utc(v.DeletedAt)
		v.CreatedAt, v.UpdatedAt = v.CreatedAt.UTC(), v.UpdatedAt.UTC()
		if v.Tags == nil {
			v.Tags = []string{}
		}
	}
	return e
}
