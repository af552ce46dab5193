// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RepairResult summarizes a repair pass
type RepairResult struct {
	Candidates int
	Repaired   int // series reference restored or confirmed empty
	Skipped    int // series still unavailable, or edited since the pull
	Errors     []string
	Cancelled  bool
}

// repairParents re-fetches sermons that a pull detached from a missing series. When the
// remote series reference now resolves to a live local series it is restored; when the
// remote copy has no series the flags are cleared. Anything else waits for a later pass.
func (c *Client) repairParents(ctx context.Context) (*RepairResult, error) {
	start := c.stageStart()
	res := &RepairResult{}

	candidates, err := c.Store.Query(ctx, KindSermon, Predicate{
		UserID: c.UserID, DirtyOnly: true, NullParent: true, RepairPending: true,
	})
	if err != nil {
		return res, pipelineError(PhaseRepair, KindSermon, err)
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	fetched := make([]Record, len(candidates))
	var (
		mu      sync.Mutex
		errList []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.RepairConcurrency)
	for i, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			raw, err := c.Transport.Get(gctx, KindSermon, cand.RecordID())
			if err == nil {
				fetched[i], err = decodeRecord(KindSermon, raw)
			}
			if err != nil {
				mu.Lock()
				errList = append(errList, fmt.Sprintf("repair fetch %s: %v", cand.RecordID(), err))
				mu.Unlock()
			}
			// per-record failures never stop the other fetches
			return nil
		})
	}
	_ = g.Wait()
	res.Errors = append(res.Errors, errList...)

	for i, cand := range candidates {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		remote := fetched[i]
		if remote == nil {
			res.Skipped++
			continue
		}
		repaired, err := c.repairOne(ctx, cand.RecordID(), remote)
		if err != nil {
			c.observeStage(ctx, MetricsOpRepair, MetricsStageTotal, start, res.Repaired, true)
			return res, pipelineError(PhaseRepair, KindSermon, err)
		}
		if repaired {
			res.Repaired++
		} else {
			res.Skipped++
		}
	}

	c.observeStage(ctx, MetricsOpRepair, MetricsStageTotal, start, res.Repaired, len(res.Errors) > 0)
	if res.Repaired > 0 || res.Skipped > 0 {
		c.logger.Info("Repair pass finished", "candidates", res.Candidates, "repaired", res.Repaired,
			"skipped", res.Skipped)
	}
	return res, nil
}

// repairOne re-checks the candidate under the write lock and applies the remote reference
func (c *Client) repairOne(ctx context.Context, id string, remote Record) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur, err := c.Store.Get(ctx, KindSermon, id)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m := cur.Meta()
	if !m.Dirty || !m.RepairPending || cur.ParentID() != nil || m.DeletedAt != nil {
		return false, nil
	}

	parentID := remote.ParentID()
	if parentID == nil {
		if err := c.Store.RawUpdate(ctx, KindSermon, id, Fields{ColDirty: false, ColRepairPending: false}); err != nil {
			return false, err
		}
		return true, nil
	}
	gap, err := c.checkParent(ctx, remote)
	if err != nil {
		return false, err
	}
	if gap != nil {
		return false, nil
	}
	fields := Fields{ColSeriesID: *parentID, ColDirty: false, ColRepairPending: false}
	if err := c.Store.RawUpdate(ctx, KindSermon, id, fields); err != nil {
		return false, err
	}
	c.logger.Debug("Restored series reference", "sermon_id", id, "series_id", *parentID)
	return true, nil
}
