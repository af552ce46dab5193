package sermonsqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(newTestDB(t))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Date(2025, 4, 6, 9, 30, 0, 123456789, time.UTC)
	delivered := now.Add(48 * time.Hour)
	seriesID := uuid.NewString()
	sermon := &Sermon{
		ID:            uuid.NewString(),
		UserID:        testUserID,
		Title:         "The Prodigal Son",
		Content:       "Luke 15",
		SeriesID:      &seriesID,
		Status:        "draft",
		Visibility:    "private",
		Tags:          []string{"grace", "parables"},
		DateDelivered: &delivered,
		CreatedAt:     now,
		UpdatedAt:     now,
		SyncMeta:      SyncMeta{Dirty: true, Operation: OpUpsert, Version: 3, RepairPending: true},
	}
	require.NoError(t, store.Upsert(ctx, sermon))

	got, err := store.Get(ctx, KindSermon, sermon.ID)
	require.NoError(t, err)
	s := got.(*Sermon)
	require.Equal(t, sermon.Title, s.Title)
	require.Equal(t, seriesID, *s.SeriesID)
	require.Equal(t, []string{"grace", "parables"}, s.Tags)
	require.True(t, s.UpdatedAt.Equal(now), "nanoseconds survive storage")
	require.True(t, s.DateDelivered.Equal(delivered))
	require.True(t, s.Dirty)
	require.True(t, s.RepairPending)
	require.Equal(t, int64(3), s.Version)
	require.Nil(t, s.SyncedAt)

	_, err = store.Get(ctx, KindSermon, uuid.NewString())
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLiteStore_QueryPredicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 4, 6, 9, 0, 0, 0, time.UTC)
	deleted := base

	parentID := uuid.NewString()
	records := []*Sermon{
		{ID: "a", UserID: testUserID, Title: "A", SeriesID: &parentID, UpdatedAt: base.Add(3 * time.Minute)},
		{ID: "b", UserID: testUserID, Title: "B", UpdatedAt: base.Add(time.Minute),
			SyncMeta: SyncMeta{Dirty: true, RepairPending: true}},
		{ID: "c", UserID: testUserID, Title: "C", UpdatedAt: base.Add(2 * time.Minute),
			SyncMeta: SyncMeta{Dirty: true, Operation: OpDelete, DeletedAt: &deleted}},
		{ID: "d", UserID: "someone-else", Title: "D", UpdatedAt: base},
	}
	for _, r := range records {
		r.CreatedAt = base
		require.NoError(t, store.Upsert(ctx, r))
	}

	ids := func(rs []Record) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.RecordID())
		}
		return out
	}

	all, err := store.Query(ctx, KindSermon, Predicate{UserID: testUserID})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, ids(all), "ordered by updated_at, deleted excluded")

	dirty, err := store.Query(ctx, KindSermon, Predicate{UserID: testUserID, DirtyOnly: true, IncludeDeleted: true})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, ids(dirty))

	deletes, err := store.Query(ctx, KindSermon, Predicate{DirtyOnly: true, IncludeDeleted: true, Operation: OpDelete})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, ids(deletes))

	repair, err := store.Query(ctx, KindSermon, Predicate{NullParent: true, RepairPending: true})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids(repair))

	children, err := store.Query(ctx, KindSermon, Predicate{ParentID: parentID})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(children))
}

func TestSQLiteStore_RawUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2025, 4, 6, 9, 0, 0, 0, time.UTC)

	series := &Series{ID: uuid.NewString(), UserID: testUserID, Title: "Romans", Status: "planning",
		CreatedAt: now, UpdatedAt: now, SyncMeta: SyncMeta{Dirty: true, Operation: OpUpsert, Version: 2}}
	require.NoError(t, store.Upsert(ctx, series))

	synced := now.Add(time.Minute)
	require.NoError(t, store.RawUpdate(ctx, KindSeries, series.ID, Fields{
		ColDirty:    false,
		ColSyncedAt: synced,
	}))
	got, err := store.Get(ctx, KindSeries, series.ID)
	require.NoError(t, err)
	require.False(t, got.Meta().Dirty)
	require.True(t, got.Meta().SyncedAt.Equal(synced))
	require.Equal(t, int64(2), got.Meta().Version, "raw updates never touch version")

	err = store.RawUpdate(ctx, KindSeries, series.ID, Fields{"title": "hijack"})
	require.Error(t, err)
	err = store.RawUpdate(ctx, KindSeries, series.ID, Fields{ColSeriesID: nil})
	require.Error(t, err, "series has no series_id column")
	err = store.RawUpdate(ctx, KindSeries, uuid.NewString(), Fields{ColDirty: true})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestInitializeDatabase(t *testing.T) {
	db := newTestDB(t)
	_, err := NewClient(db, &switchTransport{}, DefaultConfig(testUserID))
	require.NoError(t, err)

	for _, table := range []string{"series", "sermons", "_sync_state", "_sync_conflicts", "_sync_queue"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "table %s should exist", table)
	}

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, []string{"wal", "memory"}, journalMode)

	// migrations are idempotent
	_, err = NewClient(db, &switchTransport{}, DefaultConfig(testUserID))
	require.NoError(t, err)
}
