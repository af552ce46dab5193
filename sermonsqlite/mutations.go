// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveSeries creates or updates a series locally and marks it for upload.
// An empty ID is assigned a new UUID.
func (c *Client) SaveSeries(ctx context.Context, s *Series) error {
	if s == nil {
		return fmt.Errorf("series cannot be nil")
	}
	return c.saveLocal(ctx, s)
}

// SaveSermon creates or updates a sermon locally and marks it for upload.
// A user edit supersedes any pending repair of the series reference.
func (c *Client) SaveSermon(ctx context.Context, s *Sermon) error {
	if s == nil {
		return fmt.Errorf("sermon cannot be nil")
	}
	return c.saveLocal(ctx, s)
}

// DeleteSeries soft-deletes a series locally. Its sermons are detached once the
// delete reaches the remote.
func (c *Client) DeleteSeries(ctx context.Context, id string) error {
	return c.deleteLocal(ctx, KindSeries, id)
}

// DeleteSermon soft-deletes a sermon locally
func (c *Client) DeleteSermon(ctx context.Context, id string) error {
	return c.deleteLocal(ctx, KindSermon, id)
}

// GetSeries returns a local series, deleted or not
func (c *Client) GetSeries(ctx context.Context, id string) (*Series, error) {
	r, err := c.Store.Get(ctx, KindSeries, id)
	if err != nil {
		return nil, err
	}
	return r.(*Series), nil
}

// GetSermon returns a local sermon, deleted or not
func (c *Client) GetSermon(ctx context.Context, id string) (*Sermon, error) {
	r, err := c.Store.Get(ctx, KindSermon, id)
	if err != nil {
		return nil, err
	}
	return r.(*Sermon), nil
}

// ListSeries returns live series ordered by updated_at
func (c *Client) ListSeries(ctx context.Context) ([]*Series, error) {
	records, err := c.Store.Query(ctx, KindSeries, Predicate{UserID: c.UserID})
	if err != nil {
		return nil, err
	}
	out := make([]*Series, 0, len(records))
	for _, r := range records {
		out = append(out, r.(*Series))
	}
	return out, nil
}

// ListSermons returns live sermons, optionally limited to one series
func (c *Client) ListSermons(ctx context.Context, seriesID string) ([]*Sermon, error) {
	records, err := c.Store.Query(ctx, KindSermon, Predicate{UserID: c.UserID, ParentID: seriesID})
	if err != nil {
		return nil, err
	}
	out := make([]*Sermon, 0, len(records))
	for _, r := range records {
		out = append(out, r.(*Sermon))
	}
	return out, nil
}

func (c *Client) saveLocal(ctx context.Context, r Record) error {
	if r.RecordID() == "" {
		setRecordID(r, uuid.NewString())
	}
	applyDefaults(r)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	m := r.Meta()
	existing, err := c.Store.Get(ctx, r.RecordKind(), r.RecordID())
	switch {
	case err == nil:
		em := existing.Meta()
		m.SyncedAt = em.SyncedAt
		m.Version = em.Version + 1
		setRecordTimes(r, createdAt(existing), now)
	case errors.Is(err, ErrRecordNotFound):
		m.SyncedAt = nil
		m.Version = 1
		created := createdAt(r)
		if created.IsZero() {
			created = now
		}
		setRecordTimes(r, created, now)
	default:
		return fmt.Errorf("failed to load %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	m.Dirty = true
	m.Operation = OpUpsert
	m.DeletedAt = nil
	m.RepairPending = false
	setRecordOwner(r, c.UserID)

	if err := c.Store.Upsert(ctx, r); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", r.RecordKind(), r.RecordID(), err)
	}
	c.logger.Debug("Saved local record", "kind", r.RecordKind(), "id", r.RecordID(), "version", m.Version)
	return nil
}

func (c *Client) deleteLocal(ctx context.Context, kind Kind, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	r, err := c.Store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	m := r.Meta()
	if m.DeletedAt != nil {
		return nil
	}
	now := c.now()
	m.DeletedAt = &now
	m.Dirty = true
	m.Operation = OpDelete
	m.Version++
	m.RepairPending = false
	setRecordTimes(r, time.Time{}, now)

	if err := c.Store.Upsert(ctx, r); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	c.logger.Debug("Deleted local record", "kind", kind, "id", id)
	return nil
}
