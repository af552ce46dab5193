// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("not_found")
	ErrAlreadyExists = errors.New("already_exists")
)

// ListQuery selects a page of records for incremental pulls
type ListQuery struct {
	UpdatedSince   *time.Time // inclusive lower bound on updated_at
	IncludeDeleted bool
	Page           int // 1-based
	Limit          int
}

func (q ListQuery) offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// Repository stores series and sermons per user. Records are ordered by (updated_at, id).
type Repository interface {
	// List returns one page of records and the total number of records matching the query
	List(ctx context.Context, userID string, kind Kind, q ListQuery) ([]Entity, int, error)
	// Get returns a record, including soft-deleted ones. Returns ErrNotFound if missing.
	Get(ctx context.Context, userID string, kind Kind, id string) (Entity, error)
	// Create inserts a new record. Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, userID string, e Entity) error
	// Update replaces a record, inserting it when missing
	Update(ctx context.Context, userID string, e Entity) error
	// SoftDelete stamps deleted_at. Deleting a series also detaches its sermons.
	SoftDelete(ctx context.Context, userID string, kind Kind, id string, at time.Time) error
}

// MemoryRepository is an in-process Repository used by tests and the CLI demo server
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]map[Kind]map[string]Entity // user -> kind -> id
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]map[Kind]map[string]Entity)}
}

func (m *MemoryRepository) bucket(userID string, kind Kind) map[string]Entity {
	byKind, ok := m.records[userID]
	if !ok {
		byKind = make(map[Kind]map[string]Entity)
		m.records[userID] = byKind
	}
	b, ok := byKind[kind]
	if !ok {
		b = make(map[string]Entity)
		byKind[kind] = b
	}
	return b
}

func (m *MemoryRepository) List(ctx context.Context, userID string, kind Kind, q ListQuery) ([]Entity, int, error) {
	if !kind.Valid() {
		return nil, 0, ErrUnknownKind
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Entity
	for _, e := range m.records[userID][kind] {
		if !q.IncludeDeleted && e.IsDeleted() {
			continue
		}
		if q.UpdatedSince != nil && e.LastUpdated().Before(*q.UpdatedSince) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].LastUpdated(), matched[j].LastUpdated()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return matched[i].EntityID() < matched[j].EntityID()
	})

	total := len(matched)
	start := q.offset()
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < total {
		end = start + q.Limit
	}
	page := make([]Entity, 0, end-start)
	for _, e := range matched[start:end] {
		page = append(page, cloneEntity(e))
	}
	return page, total, nil
}

func (m *MemoryRepository) Get(ctx context.Context, userID string, kind Kind, id string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[userID][kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntity(e), nil
}

func (m *MemoryRepository) Create(ctx context.Context, userID string, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucket(userID, e.EntityKind())
	if _, ok := b[e.EntityID()]; ok {
		return ErrAlreadyExists
	}
	b[e.EntityID()] = cloneEntity(e)
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, userID string, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(userID, e.EntityKind())[e.EntityID()] = cloneEntity(e)
	return nil
}

func (m *MemoryRepository) SoftDelete(ctx context.Context, userID string, kind Kind, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucket(userID, kind)
	e, ok := b[id]
	if !ok || e.IsDeleted() {
		return ErrNotFound
	}
	deletedAt := at
	switch v := e.(type) {
	case *SeriesPayload:
		v.DeletedAt = &deletedAt
		v.UpdatedAt = at
		for _, child := range m.bucket(userID, KindSermons) {
			s := child.(*SermonPayload)
			if s.SeriesID != nil && *s.SeriesID == id {
				s.SeriesID = nil
				s.UpdatedAt = at
			}
		}
	case *SermonPayload:
		v.DeletedAt = &deletedAt
		v.UpdatedAt = at
	}
	return nil
}

// Put stores a record verbatim, bypassing the service clock. Used to seed fixtures.
func (m *MemoryRepository) Put(userID string, e Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(userID, e.EntityKind())[e.EntityID()] = cloneEntity(e)
}
