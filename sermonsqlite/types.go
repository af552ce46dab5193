// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

// Kind identifies a synced entity collection
type Kind = sermonsync.Kind

const (
	KindSeries = sermonsync.KindSeries
	KindSermon = sermonsync.KindSermons
)

// Operation is the pending mutation of a dirty record
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// SyncMeta is the sync overlay stored next to every record. The engine owns these columns.
type SyncMeta struct {
	Dirty         bool       // has local changes not yet pushed
	Operation     Operation  // pending operation when dirty
	SyncedAt      *time.Time // last successful exchange with the remote; nil = never pushed
	Version       int64      // bumped on every local write
	DeletedAt     *time.Time // soft delete marker
	RepairPending bool       // foreign key was nulled by a pull and awaits the repair pass
}

// HasLocalEdits reports whether the record carries user changes. A record that is dirty only
// because the engine detached it from a missing parent has no local edits.
func (m *SyncMeta) HasLocalEdits() bool {
	return m.Dirty && !m.RepairPending
}

// Record is a locally stored entity
type Record interface {
	RecordKind() Kind
	RecordID() string
	Meta() *SyncMeta
	Updated() time.Time
	// ParentID returns the foreign key to the parent series; always nil for a series
	ParentID() *string
	// Payload returns the wire representation of the record
	Payload() sermonsync.Entity
}

// Series is a local sermon series (parent record)
type Series struct {
	ID          string
	UserID      string
	Title       string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncMeta
}

func (s *Series) RecordKind() Kind { return KindSeries }
func (s *Series) RecordID() string { return s.ID }
func (s *Series) Meta() *SyncMeta { return &s.SyncMeta }
func (s *Series) Updated() time.Time { return s.UpdatedAt }
func (s *Series) ParentID() *string { return nil }

func (s *Series) Payload() sermonsync.Entity {
	return &sermonsync.SeriesPayload{
		ID:          s.ID,
		UserID:      s.UserID,
		Title:       s.Title,
		Description: s.Description,
		StartDate:   s.StartDate,
		EndDate:     s.EndDate,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		DeletedAt:   s.DeletedAt,
	}
}

// Sermon is a local sermon (child record). SeriesID is the nullable foreign key to a series.
type Sermon struct {
	ID                  string
	UserID              string
	Title               string
	Content             string
	Outline             string
	ScriptureReferences string
	Notes               string
	SeriesID            *string
	Status              string
	Visibility          string
	Tags                []string
	DateDelivered       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	SyncMeta
}

func (s *Sermon) RecordKind() Kind { return KindSermon }
func (s *Sermon) RecordID() string { return s.ID }
func (s *Sermon) Meta() *SyncMeta { return &s.SyncMeta }
func (s *Sermon) Updated() time.Time { return s.UpdatedAt }
func (s *Sermon) ParentID() *string { return s.SeriesID }

func (s *Sermon) Payload() sermonsync.Entity {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	return &sermonsync.SermonPayload{
		ID:                  s.ID,
		UserID:              s.UserID,
		Title:               s.Title,
		Content:             s.Content,
		Outline:             s.Outline,
		ScriptureReferences: s.ScriptureReferences,
		Notes:               s.Notes,
		SeriesID:            s.SeriesID,
		Status:              s.Status,
		Visibility:          s.Visibility,
		Tags:                tags,
		DateDelivered:       s.DateDelivered,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
		DeletedAt:           s.DeletedAt,
	}
}

// recordFromEntity builds a clean local record from a wire entity
func recordFromEntity(e sermonsync.Entity) (Record, error) {
	switch p := e.(type) {
	case *sermonsync.SeriesPayload:
		return &Series{
			ID:          p.ID,
			UserID:      p.UserID,
			Title:       p.Title,
			Description: p.Description,
			StartDate:   p.StartDate,
			EndDate:     p.EndDate,
			Status:      p.Status,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
			SyncMeta:    SyncMeta{Operation: OpUpsert, DeletedAt: p.DeletedAt},
		}, nil
	case *sermonsync.SermonPayload:
		return &Sermon{
			ID:                  p.ID,
			UserID:              p.UserID,
			Title:               p.Title,
			Content:             p.Content,
			Outline:             p.Outline,
			ScriptureReferences: p.ScriptureReferences,
			Notes:               p.Notes,
			SeriesID:            p.SeriesID,
			Status:              p.Status,
			Visibility:          p.Visibility,
			Tags:                p.Tags,
			DateDelivered:       p.DateDelivered,
			CreatedAt:           p.CreatedAt,
			UpdatedAt:           p.UpdatedAt,
			SyncMeta:            SyncMeta{Operation: OpUpsert, DeletedAt: p.DeletedAt},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported entity %T", e)
	}
}

// decodeRecord decodes a wire record of the given kind into a clean local record
func decodeRecord(kind Kind, raw json.RawMessage) (Record, error) {
	e, err := sermonsync.DecodeEntity(kind, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	if e.EntityID() == "" {
		return nil, fmt.Errorf("failed to decode %s: missing id", kind)
	}
	return recordFromEntity(e)
}

// encodeRecord returns the wire JSON of a record
func encodeRecord(r Record) (json.RawMessage, error) {
	return json.Marshal(r.Payload())
}

// setRecordTimes overwrites the user-visible timestamps; a zero created is left alone
func setRecordTimes(r Record, created, updated time.Time) {
	switch v := r.(type) {
	case *Series:
		if !created.IsZero() {
			v.CreatedAt = created
		}
		v.UpdatedAt = updated
	case *Sermon:
		if !created.IsZero() {
			v.CreatedAt = created
		}
		v.UpdatedAt = updated
	}
}

func setRecordOwner(r Record, userID string) {
	switch v := r.(type) {
	case *Series:
		v.UserID = userID
	case *Sermon:
		v.UserID = userID
	}
}

func setRecordID(r Record, id string) {
	switch v := r.(type) {
	case *Series:
		v.ID = id
	case *Sermon:
		v.ID = id
	}
}

func createdAt(r Record) time.Time {
	switch v := r.(type) {
	case *Series:
		return v.CreatedAt
	case *Sermon:
		return v.CreatedAt
	}
	return time.Time{}
}

// applyDefaults fills status, visibility and tags the way the server normalizes them
func applyDefaults(r Record) {
	switch v := r.(type) {
	case *Series:
		if v.Status == "" {
			v.Status = sermonsync.SeriesPlanning
		}
	case *Sermon:
		if v.Status == "" {
			v.Status = sermonsync.SermonDraft
		}
		if v.Visibility == "" {
			v.Visibility = sermonsync.VisibilityPrivate
		}
		if v.SeriesID != nil && *v.SeriesID == "" {
			v.SeriesID = nil
		}
		if v.Tags == nil {
			v.Tags = []string{}
		}
	}
}
