// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// Resolution is the user's decision for a pending conflict
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepRemote Resolution = "keep_remote"
	ResolutionMerge      Resolution = "merge"
)

// Valid reports whether r is a known resolution
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionKeepLocal, ResolutionKeepRemote, ResolutionMerge:
		return true
	}
	return false
}

// PendingConflicts lists unresolved conflicts, oldest first
func (c *Client) PendingConflicts(ctx context.Context) ([]*PendingConflict, error) {
	return c.State.PendingConflicts(ctx)
}

// ResolveConflict applies a user decision to a pending conflict.
//   - keep_local: the local record is stamped with the current time and stays dirty,
//     so it wins on the next push
//   - keep_remote: the stored remote snapshot is written locally as clean
//   - merge: merged (wire JSON of the record) is validated and stored as a dirty upsert
func (c *Client) ResolveConflict(ctx context.Context, conflictID string, resolution Resolution, merged json.RawMessage) error {
	if !resolution.Valid() {
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conf, err := c.State.Conflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if conf.Status == ConflictResolved {
		return ErrConflictResolved
	}
	local, err := c.Store.Get(ctx, conf.Kind, conf.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", conf.Kind, conf.EntityID, err)
	}

	now := c.now()
	switch resolution {
	case ResolutionKeepLocal:
		m := local.Meta()
		m.Dirty = true
		m.Operation = operationOrDefault(m.Operation)
		m.Version++
		m.RepairPending = false
		setRecordTimes(local, time.Time{}, now)
		if err := c.Store.Upsert(ctx, local); err != nil {
			return fmt.Errorf("failed to keep local %s %s: %w", conf.Kind, conf.EntityID, err)
		}

	case ResolutionKeepRemote:
		remote, err := decodeRecord(conf.Kind, conf.Remote)
		if err != nil {
			return err
		}
		if err := c.writeRemote(ctx, remote, local); err != nil {
			return fmt.Errorf("failed to apply remote %s %s: %w", conf.Kind, conf.EntityID, err)
		}
		if conf.Kind == KindSeries && remote.Meta().DeletedAt != nil && local.Meta().DeletedAt == nil {
			if _, err := c.detachChildren(ctx, conf.EntityID); err != nil {
				return err
			}
		}

	case ResolutionMerge:
		if len(merged) == 0 {
			return fmt.Errorf("merge resolution requires a merged record")
		}
		rec, err := decodeMerged(conf.Kind, conf.EntityID, merged)
		if err != nil {
			return err
		}
		lm := local.Meta()
		m := rec.Meta()
		m.Dirty = true
		m.Operation = OpUpsert
		m.Version = lm.Version + 1
		m.SyncedAt = lm.SyncedAt
		m.DeletedAt = nil
		m.RepairPending = false
		setRecordTimes(rec, createdAt(local), now)
		setRecordOwner(rec, c.UserID)
		if err := c.Store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("failed to store merged %s %s: %w", conf.Kind, conf.EntityID, err)
		}
	}

	if err := c.State.MarkConflictResolved(ctx, conf.ID, resolution, now); err != nil {
		return err
	}
	c.logger.Info("Conflict resolved", "conflict_id", conf.ID, "kind", conf.Kind, "id", conf.EntityID,
		"resolution", resolution)
	return nil
}

// decodeMerged decodes a user-merged record; the entity id always comes from the conflict
func decodeMerged(kind Kind, entityID string, merged json.RawMessage) (Record, error) {
	e, err := sermonsync.DecodeEntity(kind, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to decode merged %s: %w", kind, err)
	}
	switch p := e.(type) {
	case *sermonsync.SeriesPayload:
		p.ID = entityID
		sermonsync.NormalizeSeries(p)
	case *sermonsync.SermonPayload:
		p.ID = entityID
		sermonsync.NormalizeSermon(p)
	}
	if err := sermonsync.Validate(e); err != nil {
		return nil, &ValidationError{Kind: kind, ID: entityID, Err: err}
	}
	return recordFromEntity(e)
}

// conflictIgnoredFields are server or sync owned and never shown as diverging
var conflictIgnoredFields = map[string]bool{
	"id": true, "user_id": true, "created_at": true, "updated_at": true,
}

// diffFields returns the sorted names of business fields whose values differ
func diffFields(local, remote json.RawMessage) []string {
	var l, r map[string]any
	if json.Unmarshal(local, &l) != nil || json.Unmarshal(remote, &r) != nil {
		return nil
	}
	seen := make(map[string]bool, len(l)+len(r))
	var out []string
	for _, m := range []map[string]any{l, r} {
		for k := range m {
			if seen[k] || conflictIgnoredFields[k] {
				continue
			}
			seen[k] = true
			if !reflect.DeepEqual(l[k], r[k]) {
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (c *Client) newConflict(local, remote Record, v Verdict) (*PendingConflict, error) {
	l, err := encodeRecord(local)
	if err != nil {
		return nil, fmt.Errorf("failed to encode local %s: %w", local.RecordKind(), err)
	}
	r, err := encodeRecord(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote %s: %w", remote.RecordKind(), err)
	}
	return &PendingConflict{
		Kind:      local.RecordKind(),
		EntityID:  local.RecordID(),
		Local:     l,
		Remote:    r,
		Fields:    diffFields(l, r),
		Reason:    v.Reason,
		CreatedAt: c.now(),
	}, nil
}
