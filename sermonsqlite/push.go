// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// PushResult summarizes the push of one kind
type PushResult struct {
	Kind      Kind
	Pushed    int
	Failed    int
	Skipped   int // awaiting repair or a conflict decision
	Errors    []string
	Cancelled bool
}

func pushPhase(kind Kind) Phase {
	if kind.IsChild() {
		return PhaseChildPush
	}
	return PhaseParentPush
}

// pushKind uploads dirty records of one kind: upserts first, then deletes.
// Per-record failures leave the record dirty; an unreachable remote aborts the stage.
func (c *Client) pushKind(ctx context.Context, kind Kind) (*PushResult, error) {
	start := c.stageStart()
	res := &PushResult{Kind: kind}
	phase := pushPhase(kind)

	records, err := c.Store.Query(ctx, kind, Predicate{UserID: c.UserID, DirtyOnly: true, IncludeDeleted: true})
	if err != nil {
		return res, pipelineError(phase, kind, err)
	}

	var upserts, deletes []Record
	for _, r := range records {
		m := r.Meta()
		switch {
		case m.Operation == OpDelete:
			deletes = append(deletes, r)
		case m.RepairPending:
			res.Skipped++
		default:
			upserts = append(upserts, r)
		}
	}
	if len(upserts)+len(deletes) == 0 {
		return res, nil
	}
	c.logger.Debug("Pushing local changes", "kind", kind, "upserts", len(upserts), "deletes", len(deletes))

	reachable := false
	var stageErr error
	for _, r := range append(upserts, deletes...) {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		pending, err := c.State.HasPendingConflict(ctx, kind, r.RecordID())
		if err != nil {
			stageErr = pipelineError(phase, kind, err)
			break
		}
		if pending {
			res.Skipped++
			continue
		}

		recErr, err := c.pushRecord(ctx, r)
		if err != nil {
			stageErr = pipelineError(phase, kind, err)
			break
		}
		if recErr == nil {
			res.Pushed++
			continue
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if IsUnreachable(recErr) && !reachable {
			if perr := c.Transport.Ping(ctx); perr != nil {
				stageErr = pipelineError(phase, kind, fmt.Errorf("remote unreachable: %w", perr))
				break
			}
			reachable = true
		}
		res.Failed++
		res.Errors = append(res.Errors, recErr.Error())
		c.logger.Warn("Failed to push record", "kind", kind, "id", r.RecordID(), "error", recErr)
	}

	c.observeStage(ctx, MetricsOpPush, string(kind), start, res.Pushed, stageErr != nil || res.Failed > 0)
	return res, stageErr
}

// pushRecord uploads one dirty record. recErr is a per-record failure; err is a local
// storage failure that must abort the stage.
func (c *Client) pushRecord(ctx context.Context, r Record) (recErr error, err error) {
	if r.Meta().Operation == OpDelete {
		return c.pushDelete(ctx, r)
	}
	return c.pushUpsert(ctx, r)
}

func (c *Client) pushUpsert(ctx context.Context, r Record) (error, error) {
	kind, id := r.RecordKind(), r.RecordID()
	m := r.Meta()

	payload := r.Payload()
	if err := sermonsync.Validate(payload); err != nil {
		return &ValidationError{Kind: kind, ID: id, Err: err}, nil
	}
	if gap, err := c.checkParent(ctx, r); err != nil {
		return nil, err
	} else if gap != nil {
		return &ValidationError{Kind: kind, ID: id, Err: gap}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err), nil
	}

	var resp json.RawMessage
	_, recErr := c.config.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		if m.SyncedAt == nil {
			resp, err = c.Transport.Create(ctx, kind, body)
			if IsConflict(err) {
				// created by an earlier attempt whose response was lost
				resp, err = c.Transport.Update(ctx, kind, id, body)
			}
			return err
		}
		resp, err = c.Transport.Update(ctx, kind, id, body)
		return err
	})
	if recErr != nil {
		return recErr, nil
	}

	remote, err := decodeRecord(kind, resp)
	if err != nil {
		return err, nil
	}
	if _, err := c.markSynced(ctx, kind, id, m.Version, OpUpsert, remote.Updated()); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Client) pushDelete(ctx context.Context, r Record) (error, error) {
	kind, id := r.RecordKind(), r.RecordID()
	m := r.Meta()

	if m.SyncedAt == nil {
		// never reached the remote: nothing to delete there
		cleared, err := c.markSynced(ctx, kind, id, m.Version, OpDelete, time.Time{})
		if err != nil {
			return nil, err
		}
		return nil, c.afterDelete(ctx, kind, id, cleared)
	}

	_, recErr := c.config.Retry.Do(ctx, func(ctx context.Context) error {
		err := c.Transport.Delete(ctx, kind, id)
		if IsNotFound(err) {
			c.logger.Debug("Remote delete skipped", "kind", kind, "id", id, "reason", ErrNotFoundOnDelete)
			return nil
		}
		return err
	})
	if recErr != nil {
		return recErr, nil
	}

	cleared, err := c.markSynced(ctx, kind, id, m.Version, OpDelete, time.Time{})
	if err != nil {
		return nil, err
	}
	return nil, c.afterDelete(ctx, kind, id, cleared)
}

// afterDelete detaches the sermons of a series whose delete was acknowledged
func (c *Client) afterDelete(ctx context.Context, kind Kind, id string, cleared bool) error {
	if !cleared || kind != KindSeries {
		return nil
	}
	return c.withWrite(func() error {
		_, err := c.detachChildren(ctx, id)
		return err
	})
}

// checkParent reports a gap when a sermon references a series that is missing or deleted locally
func (c *Client) checkParent(ctx context.Context, r Record) (*ReferentialIntegrityGap, error) {
	pid := r.ParentID()
	if pid == nil {
		return nil, nil
	}
	parent, err := c.Store.Get(ctx, KindSeries, *pid)
	if errors.Is(err, ErrRecordNotFound) {
		return &ReferentialIntegrityGap{SermonID: r.RecordID(), SeriesID: *pid, Reason: "missing"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up series %s: %w", *pid, err)
	}
	if parent.Meta().DeletedAt != nil {
		return &ReferentialIntegrityGap{SermonID: r.RecordID(), SeriesID: *pid, Reason: "deleted"}, nil
	}
	return nil, nil
}

// markSynced records a successful exchange. The dirty flag is cleared only when the
// record still has the version and operation that were sent; a newer local edit stays
// dirty and only synced_at is stamped. serverUpdated, when set, becomes the local
// updated_at so the next pull recognizes the record as unchanged.
func (c *Client) markSynced(ctx context.Context, kind Kind, id string, version int64, op Operation, serverUpdated time.Time) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur, err := c.Store.Get(ctx, kind, id)
	if err != nil {
		return false, err
	}
	cm := cur.Meta()
	now := c.now()
	fields := Fields{ColSyncedAt: now}
	cleared := cm.Version == version && operationOrDefault(cm.Operation) == op
	if cleared {
		fields[ColDirty] = false
		if !serverUpdated.IsZero() {
			fields[ColUpdatedAt] = serverUpdated
		}
	}
	if err := c.Store.RawUpdate(ctx, kind, id, fields); err != nil {
		return false, fmt.Errorf("failed to mark %s %s synced: %w", kind, id, err)
	}
	if cleared {
		if err := c.Queue.RemoveEntity(ctx, kind, id); err != nil {
			return true, err
		}
	} else {
		c.logger.Debug("Record changed during push, keeping dirty", "kind", kind, "id", id,
			"sent_version", version, "current_version", cm.Version)
	}
	return cleared, nil
}

// detachChildren clears the series reference of live sermons after their series is
// deleted and marks them for upload
func (c *Client) detachChildren(ctx context.Context, seriesID string) (int, error) {
	children, err := c.Store.Query(ctx, KindSermon, Predicate{ParentID: seriesID})
	if err != nil {
		return 0, fmt.Errorf("failed to find sermons of series %s: %w", seriesID, err)
	}
	for _, child := range children {
		fields := Fields{
			ColSeriesID:      nil,
			ColDirty:         true,
			ColRepairPending: false,
		}
		if child.Meta().Operation != OpDelete {
			fields[ColOperation] = OpUpsert
		}
		if err := c.Store.RawUpdate(ctx, KindSermon, child.RecordID(), fields); err != nil {
			return 0, fmt.Errorf("failed to detach sermon %s: %w", child.RecordID(), err)
		}
	}
	if len(children) > 0 {
		c.logger.Info("Detached sermons from deleted series", "series_id", seriesID, "count", len(children))
	}
	return len(children), nil
}
