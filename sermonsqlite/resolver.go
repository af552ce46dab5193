// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"time"
)

// DefaultConflictWindow is the edit distance under which a dirty local record cannot be auto-resolved
const DefaultConflictWindow = 5 * time.Minute

// Decision is the outcome of comparing a local record with its remote counterpart
type Decision int

const (
	KeepLocal Decision = iota
	AcceptRemote
	RequiresManualResolution
)

func (d Decision) String() string {
	switch d {
	case KeepLocal:
		return "keep_local"
	case AcceptRemote:
		return "accept_remote"
	case RequiresManualResolution:
		return "requires_manual_resolution"
	default:
		return "unknown"
	}
}

// Reasons attached to verdicts
const (
	ReasonConcurrentEdit = "concurrent edit window too narrow to auto-resolve"
	ReasonLocalDeleted   = "local deletion wins"
	ReasonRemoteDeleted  = "remote deletion wins"
	ReasonLocalDirty     = "unsynced local edits take precedence"
	ReasonLocalNewer     = "local copy is newer"
	ReasonRemoteNewer    = "remote copy is newer"
	ReasonSameTimestamp  = "equal timestamps prefer remote"
)

// LocalSnapshot is the resolver's view of the local record
type LocalSnapshot struct {
	UpdatedAt time.Time
	Dirty     bool
	DeletedAt *time.Time
	ParentID  *string
}

// RemoteSnapshot is the resolver's view of the remote record
type RemoteSnapshot struct {
	UpdatedAt time.Time
	DeletedAt *time.Time
	ParentID  *string
}

// Verdict is the resolver output. ParentMismatch is informational only.
type Verdict struct {
	Decision       Decision
	Reason         string
	ParentMismatch bool
}

// Resolver decides between a local and a remote version of the same record.
// It is a pure function of its inputs.
type Resolver struct {
	Window time.Duration
}

// NewResolver creates a resolver; a non-positive window selects DefaultConflictWindow
func NewResolver(window time.Duration) Resolver {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return Resolver{Window: window}
}

// Resolve applies the rules in order; the first match wins:
//  1. dirty local edited within Window of the remote, neither side deleted: manual
//  2. local deleted, remote not: keep local
//  3. remote deleted, local not: accept remote
//  4. local dirty: keep local
//  5. newer updated_at wins, ties go to remote
func (r Resolver) Resolve(local LocalSnapshot, remote RemoteSnapshot) Verdict {
	v := r.resolve(local, remote)
	v.ParentMismatch = !sameParent(local.ParentID, remote.ParentID)
	return v
}

func (r Resolver) resolve(local LocalSnapshot, remote RemoteSnapshot) Verdict {
	localDeleted := local.DeletedAt != nil
	remoteDeleted := remote.DeletedAt != nil
	deletionConflict := localDeleted || remoteDeleted

	window := r.Window
	if window <= 0 {
		window = DefaultConflictWindow
	}
	if local.Dirty && !deletionConflict && local.UpdatedAt.Sub(remote.UpdatedAt).Abs() < window {
		return Verdict{Decision: RequiresManualResolution, Reason: ReasonConcurrentEdit}
	}
	if localDeleted && !remoteDeleted {
		return Verdict{Decision: KeepLocal, Reason: ReasonLocalDeleted}
	}
	if remoteDeleted && !localDeleted {
		return Verdict{Decision: AcceptRemote, Reason: ReasonRemoteDeleted}
	}
	if local.Dirty {
		return Verdict{Decision: KeepLocal, Reason: ReasonLocalDirty}
	}
	switch {
	case local.UpdatedAt.After(remote.UpdatedAt):
		return Verdict{Decision: KeepLocal, Reason: ReasonLocalNewer}
	case remote.UpdatedAt.After(local.UpdatedAt):
		return Verdict{Decision: AcceptRemote, Reason: ReasonRemoteNewer}
	default:
		return Verdict{Decision: AcceptRemote, Reason: ReasonSameTimestamp}
	}
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func localSnapshot(r Record) LocalSnapshot {
	m := r.Meta()
	return LocalSnapshot{
		UpdatedAt: r.Updated(),
		Dirty:     m.HasLocalEdits(),
		DeletedAt: m.DeletedAt,
		ParentID:  r.ParentID(),
	}
}

func remoteSnapshot(r Record) RemoteSnapshot {
	return RemoteSnapshot{
		UpdatedAt: r.Updated(),
		DeletedAt: r.Meta().DeletedAt,
		ParentID:  r.ParentID(),
	}
}
