// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// QueuedPayload is an operation accepted by Client.QueueOperation:
// *SeriesPayload, *SermonPayload or *DeletePayload.
type QueuedPayload interface {
	queuedKind() Kind
	queuedID() string
	queuedOp() Operation
}

// SeriesPayload creates or updates a series
type SeriesPayload struct {
	Series Series
}

// SermonPayload creates or updates a sermon
type SermonPayload struct {
	Sermon Sermon
}

// DeletePayload soft-deletes a record of the given kind
type DeletePayload struct {
	EntityKind Kind
	ID         string
}

func (p *SeriesPayload) queuedKind() Kind    { return KindSeries }
func (p *SeriesPayload) queuedID() string    { return p.Series.ID }
func (p *SeriesPayload) queuedOp() Operation { return OpUpsert }

func (p *SermonPayload) queuedKind() Kind    { return KindSermon }
func (p *SermonPayload) queuedID() string    { return p.Sermon.ID }
func (p *SermonPayload) queuedOp() Operation { return OpUpsert }

func (p *DeletePayload) queuedKind() Kind    { return p.EntityKind }
func (p *DeletePayload) queuedID() string    { return p.ID }
func (p *DeletePayload) queuedOp() Operation { return OpDelete }

// QueuedOperation is a stored queue entry
type QueuedOperation struct {
	ID         string
	Kind       Kind
	EntityID   string
	Op         Operation
	Payload    QueuedPayload
	Version    int64 // local record version the entry was queued at
	RetryCount int
	LastError  string
	QueuedAt   time.Time
}

// QueueResult summarizes one pass over the queue
type QueueResult struct {
	Processed int      `json:"processed"` // entries that reached the remote
	Failed    int      `json:"failed"`    // entries kept for another attempt
	Dropped   int      `json:"dropped"`   // entries removed after a permanent failure or exhausted retries
	Errors    []string `json:"errors"`
	Cancelled bool     `json:"cancelled"`
}

// OperationQueue persists operations made while the remote was unreachable.
// There is at most one entry per (kind, entity id); the newest operation wins.
type OperationQueue struct {
	db *sql.DB
}

// NewOperationQueue wraps an open database. Call Migrate before first use.
func NewOperationQueue(db *sql.DB) *OperationQueue {
	return &OperationQueue{db: db}
}

// Migrate creates the queue table if it doesn't exist
func (q *OperationQueue) Migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _sync_queue (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		op          TEXT NOT NULL CHECK (op IN ('upsert','delete')),
		payload     TEXT,
		version     INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT,
		queued_at   TEXT NOT NULL,
		UNIQUE (kind, entity_id)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create _sync_queue: %w", err)
	}
	return nil
}

// Enqueue stores op, replacing any entry for the same entity. A replaced entry keeps
// its original position so parents stay ahead of children; the retry count resets.
func (q *OperationQueue) Enqueue(ctx context.Context, op *QueuedOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now().UTC()
	}
	payload, err := encodeQueuedPayload(op.Payload)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO _sync_queue (id, kind, entity_id, op, payload, version, retry_count, last_error, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?)
		ON CONFLICT(kind, entity_id) DO UPDATE SET
			op = excluded.op,
			payload = excluded.payload,
			version = excluded.version,
			retry_count = 0,
			last_error = NULL`,
		op.ID, string(op.Kind), op.EntityID, string(op.Op), payload, op.Version, formatTime(op.QueuedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", op.Kind, op.EntityID, err)
	}
	return nil
}

// List returns all entries in queue order
func (q *OperationQueue) List(ctx context.Context) ([]*QueuedOperation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, entity_id, op, payload, version, retry_count, last_error, queued_at
		FROM _sync_queue ORDER BY queued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []*QueuedOperation
	for rows.Next() {
		var (
			op        QueuedOperation
			kind, typ string
			payload   sql.NullString
			lastError sql.NullString
			queuedAt  string
		)
		if err := rows.Scan(&op.ID, &kind, &op.EntityID, &typ, &payload, &op.Version, &op.RetryCount,
			&lastError, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		op.Kind = Kind(kind)
		op.Op = Operation(typ)
		op.LastError = lastError.String
		if op.QueuedAt, err = parseTime(queuedAt); err != nil {
			return nil, err
		}
		if op.Payload, err = decodeQueuedPayload(op.Kind, op.Op, op.EntityID, payload); err != nil {
			return nil, fmt.Errorf("failed to decode queue entry %s: %w", op.ID, err)
		}
		out = append(out, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return out, nil
}

// Remove deletes an entry by id
func (q *OperationQueue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM _sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
	}
	return nil
}

// RemoveEntity deletes the entry for an entity, if any
func (q *OperationQueue) RemoveEntity(ctx context.Context, kind Kind, entityID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM _sync_queue WHERE kind = ? AND entity_id = ?`,
		string(kind), entityID); err != nil {
		return fmt.Errorf("failed to remove queue entry for %s %s: %w", kind, entityID, err)
	}
	return nil
}

// MarkFailed records a failed attempt
func (q *OperationQueue) MarkFailed(ctx context.Context, id string, retryCount int, lastErr string) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE _sync_queue SET retry_count = ?, last_error = ? WHERE id = ?`,
		retryCount, lastErr, id); err != nil {
		return fmt.Errorf("failed to update queue entry %s: %w", id, err)
	}
	return nil
}

// Len returns the number of queued entries
func (q *OperationQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM _sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func encodeQueuedPayload(p QueuedPayload) (any, error) {
	switch v := p.(type) {
	case *SeriesPayload:
		b, err := json.Marshal(v.Series.Payload())
		return string(b), err
	case *SermonPayload:
		b, err := json.Marshal(v.Sermon.Payload())
		return string(b), err
	case *DeletePayload:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported queued payload %T", p)
	}
}

func decodeQueuedPayload(kind Kind, op Operation, id string, raw sql.NullString) (QueuedPayload, error) {
	if op == OpDelete {
		return &DeletePayload{EntityKind: kind, ID: id}, nil
	}
	if !raw.Valid {
		return nil, fmt.Errorf("upsert entry without payload")
	}
	rec, err := decodeRecord(kind, json.RawMessage(raw.String))
	if err != nil {
		return nil, err
	}
	switch r := rec.(type) {
	case *Series:
		return &SeriesPayload{Series: *r}, nil
	case *Sermon:
		return &SermonPayload{Sermon: *r}, nil
	default:
		return nil, fmt.Errorf("unsupported queued record %T", rec)
	}
}

// QueueOperation applies an operation locally and delivers it right away when the
// remote answers. While offline, or when delivery fails with a retryable error, the
// operation is queued and replayed by ProcessQueue. Returns true when queued.
// A permanent failure (validation, foreign key) leaves the record dirty for the next
// push and is returned as the error.
func (c *Client) QueueOperation(ctx context.Context, p QueuedPayload) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("payload cannot be nil")
	}
	var rec Record
	switch v := p.(type) {
	case *SeriesPayload:
		if err := c.SaveSeries(ctx, &v.Series); err != nil {
			return false, err
		}
		rec = &v.Series
	case *SermonPayload:
		if err := c.SaveSermon(ctx, &v.Sermon); err != nil {
			return false, err
		}
		rec = &v.Sermon
	case *DeletePayload:
		if !v.EntityKind.Valid() {
			return false, fmt.Errorf("%w: %q", sermonsync.ErrUnknownKind, v.EntityKind)
		}
		if err := c.deleteLocal(ctx, v.EntityKind, v.ID); err != nil {
			return false, err
		}
		r, err := c.Store.Get(ctx, v.EntityKind, v.ID)
		if err != nil {
			return false, err
		}
		rec = r
	default:
		return false, fmt.Errorf("unsupported queued payload %T", p)
	}

	op := &QueuedOperation{
		Kind:     p.queuedKind(),
		EntityID: p.queuedID(),
		Op:       p.queuedOp(),
		Payload:  p,
		Version:  rec.Meta().Version,
		QueuedAt: c.now(),
	}

	// a running session or replay owns the remote; queue behind it
	if c.sessions.TryAcquire(1) {
		delivered, err := c.deliverNow(ctx, rec, op)
		c.sessions.Release(1)
		if err != nil || delivered {
			return false, err
		}
	}

	if err := c.Queue.Enqueue(ctx, op); err != nil {
		return false, err
	}
	c.logger.Debug("Operation queued", "kind", op.Kind, "id", op.EntityID, "op", op.Op)
	return true, nil
}

// deliverNow pushes rec when the remote answers. A retryable failure is reported as
// not delivered so the caller queues the operation.
func (c *Client) deliverNow(ctx context.Context, rec Record, op *QueuedOperation) (bool, error) {
	if c.Transport.Ping(ctx) != nil {
		return false, nil
	}
	recErr, err := c.pushRecord(ctx, rec)
	if err != nil {
		return false, err
	}
	if recErr == nil {
		return true, nil
	}
	if !IsRetryable(recErr) {
		return false, recErr
	}
	c.logger.Warn("Immediate delivery failed, queueing", "kind", op.Kind, "id", op.EntityID, "error", recErr)
	return false, nil
}

// ProcessQueue replays queued operations in order, one attempt each. Permanent failures
// are dropped at once; others are kept until the retry policy is exhausted. A running
// sync session drains the queue itself, so ProcessQueue waits for it to finish.
func (c *Client) ProcessQueue(ctx context.Context) (*QueueResult, error) {
	v, err, _ := c.flight.Do("queue", func() (any, error) {
		return c.exclusive(ctx, func() (any, error) {
			return c.processQueue(ctx)
		})
	})
	res, _ := v.(*QueueResult)
	return res, err
}

func (c *Client) processQueue(ctx context.Context) (*QueueResult, error) {
	start := c.stageStart()
	res := &QueueResult{}
	ops, err := c.Queue.List(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		c.observeStage(ctx, MetricsOpQueue, MetricsStageTotal, start, res.Processed, res.Dropped > 0)
	}()

	for _, op := range ops {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		remote, sendErr := c.sendQueued(ctx, op)
		if sendErr == nil {
			if err := c.Queue.Remove(ctx, op.ID); err != nil {
				return res, err
			}
			if err := c.markDelivered(ctx, op, remote); err != nil {
				return res, err
			}
			res.Processed++
			continue
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		retries := op.RetryCount + 1
		if !queueRetryable(sendErr) || c.config.Retry.Exhausted(retries) {
			if err := c.Queue.Remove(ctx, op.ID); err != nil {
				return res, err
			}
			res.Dropped++
			res.Errors = append(res.Errors, fmt.Sprintf("dropped queued %s %s %s: %v", op.Op, op.Kind, op.EntityID, sendErr))
			c.logger.Warn("Queued operation dropped", "kind", op.Kind, "id", op.EntityID, "op", op.Op,
				"retries", retries, "error", sendErr)
			continue
		}
		if err := c.Queue.MarkFailed(ctx, op.ID, retries, sendErr.Error()); err != nil {
			return res, err
		}
		res.Failed++
		c.logger.Debug("Queued operation failed, will retry", "kind", op.Kind, "id", op.EntityID,
			"retries", retries, "error", sendErr)
	}
	return res, nil
}

// queueRetryable keeps entries whose failure may clear up later. A missing series is
// retried because its own queued create may not have reached the remote yet.
func queueRetryable(err error) bool {
	if IsRetryable(err) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te) && te.Code == sermonsync.ErrCodeFKMissing
}

// sendQueued performs one remote call for a queued entry and returns the server copy
// for upserts
func (c *Client) sendQueued(ctx context.Context, op *QueuedOperation) (Record, error) {
	if op.Op == OpDelete {
		err := c.Transport.Delete(ctx, op.Kind, op.EntityID)
		if IsNotFound(err) {
			c.logger.Debug("Queued delete already applied", "kind", op.Kind, "id", op.EntityID,
				"reason", ErrNotFoundOnDelete)
			return nil, nil
		}
		return nil, err
	}

	body, err := encodeQueuedPayload(op.Payload)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(body.(string))
	resp, err := c.Transport.Update(ctx, op.Kind, op.EntityID, raw)
	if err != nil {
		return nil, err
	}
	return decodeRecord(op.Kind, resp)
}

// markDelivered clears the local dirty flag when the record was not edited after queueing
func (c *Client) markDelivered(ctx context.Context, op *QueuedOperation, remote Record) error {
	var serverUpdated time.Time
	if remote != nil {
		serverUpdated = remote.Updated()
	}
	cleared, err := c.markSynced(ctx, op.Kind, op.EntityID, op.Version, op.Op, serverUpdated)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if op.Op == OpDelete {
		return c.afterDelete(ctx, op.Kind, op.EntityID, cleared)
	}
	return nil
}
