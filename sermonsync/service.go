// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServiceConfig holds configuration for the sermon service
type ServiceConfig struct {
	AppName         string           // Application name reported by /health
	MaxPageSize     int              // Upper bound for the limit query parameter (0 = MaxPageSize)
	MaxPayloadBytes int              // Maximum JSON body size in bytes (0 = unlimited)
	Now             func() time.Time // Clock used to stamp updated_at (nil = time.Now)
}

// Service implements the series/sermon API on top of a Repository.
// The service owns updated_at: every write is stamped with the server clock.
type Service struct {
	repo   Repository
	logger *slog.Logger
	config *ServiceConfig

	// clockMu makes stamps strictly increasing across writes
	clockMu   sync.Mutex
	lastStamp time.Time
}

// NewService creates a new service instance
func NewService(repo Repository, config *ServiceConfig, logger *slog.Logger) *Service {
	if config == nil {
		config = &ServiceConfig{AppName: "sermonsync"}
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = MaxPageSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, config: config}
}

// stamp returns a server timestamp later than both prev and any earlier stamp.
// Microsecond precision matches PostgreSQL TIMESTAMPTZ.
func (s *Service) stamp(prev time.Time) time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := s.config.Now().UTC().Truncate(time.Microsecond)
	floor := s.lastStamp
	if prev.After(floor) {
		floor = prev
	}
	if !now.After(floor) {
		now = floor.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

// List returns a page of records for incremental pulls
func (s *Service) List(ctx context.Context, userID string, kind Kind, q ListQuery) (*ListResponse, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > s.config.MaxPageSize {
		q.Limit = s.config.MaxPageSize
	}

	entities, total, err := s.repo.List(ctx, userID, kind, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	items := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s: %w", kind, e.EntityID(), err)
		}
		items = append(items, raw)
	}

	return &ListResponse{
		Items: items,
		Pagination: Pagination{
			Page:    q.Page,
			Limit:   q.Limit,
			Total:   total,
			HasMore: q.offset()+len(entities) < total,
		},
	}, nil
}

// Get returns a single record, including soft-deleted ones
func (s *Service) Get(ctx context.Context, userID string, kind Kind, id string) (Entity, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	return s.repo.Get(ctx, userID, kind, id)
}

// Create inserts a new record. Returns ErrAlreadyExists when the id is taken.
func (s *Service) Create(ctx context.Context, userID string, e Entity) (Entity, error) {
	if err := s.prepare(ctx, userID, e); err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, userID, e.EntityKind(), e.EntityID()); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}

	now := s.stamp(time.Time{})
	setTimestamps(e, nil, now)
	if err := s.repo.Create(ctx, userID, e); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	s.logger.Debug("Created record", "kind", e.EntityKind(), "id", e.EntityID(), "user_id", userID)
	return e, nil
}

// Update replaces a record, creating it when missing. A PUT always yields a live record.
func (s *Service) Update(ctx context.Context, userID, id string, e Entity) (Entity, error) {
	if e.EntityID() != "" && e.EntityID() != id {
		return nil, fmt.Errorf("%w: id in body %q does not match path %q", ErrBadPayload, e.EntityID(), id)
	}
	setID(e, id)
	if err := s.prepare(ctx, userID, e); err != nil {
		return nil, err
	}

	existing, err := s.repo.Get(ctx, userID, e.EntityKind(), e.EntityID())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}

	prev := time.Time{}
	if existing != nil {
		prev = existing.LastUpdated()
	}
	setTimestamps(e, existing, s.stamp(prev))
	if err := s.repo.Update(ctx, userID, e); err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	s.logger.Debug("Updated record", "kind", e.EntityKind(), "id", e.EntityID(), "user_id", userID)
	return e, nil
}

// Delete soft-deletes a record. Deleting a series detaches its sermons.
func (s *Service) Delete(ctx context.Context, userID string, kind Kind, id string) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	existing, err := s.repo.Get(ctx, userID, kind, id)
	if err != nil {
		return err
	}
	if existing.IsDeleted() {
		return ErrNotFound
	}
	if err := s.repo.SoftDelete(ctx, userID, kind, id, s.stamp(existing.LastUpdated())); err != nil {
		return err
	}
	s.logger.Debug("Deleted record", "kind", kind, "id", id, "user_id", userID)
	return nil
}

// prepare normalizes and validates an incoming record, including the series reference of a sermon
func (s *Service) prepare(ctx context.Context, userID string, e Entity) error {
	switch v := e.(type) {
	case *SeriesPayload:
		NormalizeSeries(v)
		v.UserID = userID
	case *SermonPayload:
		NormalizeSermon(v)
		v.UserID = userID
	default:
		return ErrUnknownKind
	}
	if err := Validate(e); err != nil {
		return err
	}

	if sermon, ok := e.(*SermonPayload); ok && sermon.SeriesID != nil {
		parent, err := s.repo.Get(ctx, userID, KindSeries, *sermon.SeriesID)
		if errors.Is(err, ErrNotFound) || (err == nil && parent.IsDeleted()) {
			return fmt.Errorf("%w: series %s", ErrFKMissing, *sermon.SeriesID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up series %s: %w", *sermon.SeriesID, err)
		}
	}
	return nil
}

func setID(e Entity, id string) {
	switch v := e.(type) {
	case *SeriesPayload:
		v.ID = id
	case *SermonPayload:
		v.ID = id
	}
}

// setTimestamps applies server-owned fields: created_at survives updates, deleted_at is cleared
func setTimestamps(e Entity, existing Entity, now time.Time) {
	switch v := e.(type) {
	case *SeriesPayload:
		if prev, ok := existing.(*SeriesPayload); ok {
			v.CreatedAt = prev.CreatedAt
		} else if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		} else {
			v.CreatedAt = v.CreatedAt.UTC().Truncate(time.Microsecond)
		}
		v.UpdatedAt = now
		v.DeletedAt = nil
	case *SermonPayload:
		if prev, ok := existing.(*SermonPayload); ok {
			v.CreatedAt = prev.CreatedAt
		} else if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		} else {
			v.CreatedAt = v.CreatedAt.UTC().Truncate(time.Microsecond)
		}
		v.UpdatedAt = now
		v.DeletedAt = nil
	}
}
