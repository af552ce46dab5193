// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// PullResult summarizes the pull of one kind
type PullResult struct {
	Kind      Kind
	Pulled    int // remote versions written locally
	Conflicts int // local version kept, or a manual decision recorded
	Unchanged int // echoes of records already in sync
	Errors    []string
	Cancelled bool
}

func pullPhase(kind Kind) Phase {
	if kind.IsChild() {
		return PhaseChildPull
	}
	return PhaseParentPull
}

// pullKind downloads remote changes since the watermark page by page. The watermark
// moves to the pull start time only when every page was processed.
func (c *Client) pullKind(ctx context.Context, kind Kind) (*PullResult, error) {
	start := c.stageStart()
	res := &PullResult{Kind: kind}
	phase := pullPhase(kind)
	pullStart := c.now()

	var stageErr error
	defer func() {
		c.observeStage(ctx, MetricsOpPull, string(kind), start, res.Pulled, stageErr != nil)
	}()

	since, err := c.State.Watermark(ctx, kind)
	if err != nil {
		stageErr = pipelineError(phase, kind, err)
		return res, stageErr
	}

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}
		var list *sermonsync.ListResponse
		_, err := c.config.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			list, err = c.Transport.List(ctx, kind, ListParams{
				UpdatedSince:   since,
				IncludeDeleted: true,
				Page:           page,
				Limit:          c.config.PageSize,
			})
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				return res, nil
			}
			stageErr = pipelineError(phase, kind, fmt.Errorf("failed to list page %d: %w", page, err))
			return res, stageErr
		}

		for _, raw := range list.Items {
			if ctx.Err() != nil {
				res.Cancelled = true
				return res, nil
			}
			remote, err := decodeRecord(kind, raw)
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				c.logger.Warn("Skipping undecodable remote record", "kind", kind, "error", err)
				continue
			}
			if err := c.applyPulled(ctx, remote, res); err != nil {
				stageErr = pipelineError(phase, kind, err)
				return res, stageErr
			}
		}

		if !list.Pagination.HasMore || len(list.Items) == 0 {
			break
		}
	}

	if err := c.State.SetWatermark(ctx, kind, pullStart); err != nil {
		stageErr = pipelineError(phase, kind, err)
		return res, stageErr
	}
	c.logger.Debug("Pull finished", "kind", kind, "pulled", res.Pulled, "conflicts", res.Conflicts,
		"unchanged", res.Unchanged)
	return res, nil
}

// applyPulled merges one remote record into the local store
func (c *Client) applyPulled(ctx context.Context, remote Record, res *PullResult) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	kind, id := remote.RecordKind(), remote.RecordID()
	local, err := c.Store.Get(ctx, kind, id)
	if errors.Is(err, ErrRecordNotFound) {
		if err := c.writeRemote(ctx, remote, nil); err != nil {
			return err
		}
		res.Pulled++
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}

	lm, rm := local.Meta(), remote.Meta()
	if !lm.HasLocalEdits() && isEcho(local, remote) {
		res.Unchanged++
		return nil
	}

	verdict := c.Resolver.Resolve(localSnapshot(local), remoteSnapshot(remote))
	if verdict.ParentMismatch && kind.IsChild() {
		c.logger.Debug("Series reference differs between local and remote", "id", id,
			"decision", verdict.Decision)
	}

	switch verdict.Decision {
	case AcceptRemote:
		if err := c.writeRemote(ctx, remote, local); err != nil {
			return err
		}
		res.Pulled++
		if kind == KindSeries && rm.DeletedAt != nil && lm.DeletedAt == nil {
			if _, err := c.detachChildren(ctx, id); err != nil {
				return err
			}
		}

	case KeepLocal:
		res.Conflicts++
		c.logger.Debug("Keeping local version", "kind", kind, "id", id, "reason", verdict.Reason)

	case RequiresManualResolution:
		conflict, err := c.newConflict(local, remote, verdict)
		if err != nil {
			return err
		}
		added, err := c.State.AddConflict(ctx, conflict)
		if err != nil {
			return err
		}
		res.Conflicts++
		if added {
			c.logger.Info("Conflict needs manual resolution", "kind", kind, "id", id,
				"conflict_id", conflict.ID, "fields", conflict.Fields)
		}
	}
	return nil
}

// isEcho reports whether remote carries nothing new for a clean local record: the same
// update stamp and deletion state, or a tombstone on both sides
func isEcho(local, remote Record) bool {
	ld, rd := local.Meta().DeletedAt != nil, remote.Meta().DeletedAt != nil
	if ld && rd {
		return true
	}
	return ld == rd && local.Updated().Equal(remote.Updated())
}

// writeRemote stores a remote record as clean. A sermon whose series is missing or
// deleted locally is stored detached and flagged for the repair pass.
// The caller holds writeMu.
func (c *Client) writeRemote(ctx context.Context, remote Record, local Record) error {
	now := c.now()
	m := remote.Meta()
	m.Dirty = false
	m.Operation = OpUpsert
	m.SyncedAt = &now
	m.RepairPending = false
	if local != nil {
		m.Version = local.Meta().Version
	}
	setRecordOwner(remote, c.UserID)

	if s, ok := remote.(*Sermon); ok && s.SeriesID != nil && s.DeletedAt == nil {
		gap, err := c.checkParent(ctx, s)
		if err != nil {
			return err
		}
		if gap != nil {
			c.logger.Warn("Referential integrity gap, detaching sermon until repair",
				"sermon_id", s.ID, "series_id", gap.SeriesID, "reason", gap.Reason)
			s.SeriesID = nil
			m.Dirty = true
			m.RepairPending = true
		}
	}

	if err := c.Store.Upsert(ctx, remote); err != nil {
		return fmt.Errorf("failed to store remote %s %s: %w", remote.RecordKind(), remote.RecordID(), err)
	}
	return nil
}
