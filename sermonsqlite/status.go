// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"time"
)

// statusPingTimeout bounds the reachability probe in Status
const statusPingTimeout = 5 * time.Second

// Status is a snapshot of the client's sync state
type Status struct {
	Online        bool       `json:"online"`
	Authenticated bool       `json:"authenticated"`
	PendingCount  int        `json:"pending_count"` // dirty records plus queued operations, each entity once
	QueuedCount   int        `json:"queued_count"`
	ConflictCount int        `json:"conflict_count"`
	RepairCount   int        `json:"repair_count"`
	InProgress    bool       `json:"in_progress"`
	Phase         Phase      `json:"phase"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}

// authenticator is implemented by transports that know whether they hold credentials
type authenticator interface {
	Authenticated(ctx context.Context) bool
}

// Status reports connectivity, pending work and the current phase
func (c *Client) Status(ctx context.Context) (*Status, error) {
	st := &Status{InProgress: c.InProgress(), Phase: c.Phase()}

	pingCtx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	st.Online = c.Transport.Ping(pingCtx) == nil
	cancel()
	if a, ok := c.Transport.(authenticator); ok {
		st.Authenticated = a.Authenticated(ctx)
	} else {
		st.Authenticated = true
	}

	type entity struct {
		kind Kind
		id   string
	}
	pending := make(map[entity]struct{})
	for _, kind := range []Kind{KindSeries, KindSermon} {
		records, err := c.Store.Query(ctx, kind, Predicate{UserID: c.UserID, DirtyOnly: true, IncludeDeleted: true})
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.Meta().HasLocalEdits() {
				pending[entity{kind, r.RecordID()}] = struct{}{}
			} else {
				st.RepairCount++
			}
		}
	}
	ops, err := c.Queue.List(ctx)
	if err != nil {
		return nil, err
	}
	st.QueuedCount = len(ops)
	for _, op := range ops {
		pending[entity{op.Kind, op.EntityID}] = struct{}{}
	}
	st.PendingCount = len(pending)

	if st.ConflictCount, err = c.State.CountPendingConflicts(ctx); err != nil {
		return nil, err
	}
	if st.LastSyncTime, err = c.State.LastSyncTime(ctx); err != nil {
		return nil, err
	}
	return st, nil
}
