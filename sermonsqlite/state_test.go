package sermonsqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *SyncState {
	t.Helper()
	state := NewSyncState(newTestDB(t))
	require.NoError(t, state.Migrate(context.Background()))
	return state
}

func TestSyncState_Watermarks(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)

	wm, err := state.Watermark(ctx, KindSeries)
	require.NoError(t, err)
	require.Nil(t, wm, "never pulled")

	at := time.Date(2025, 6, 1, 8, 0, 0, 500, time.UTC)
	require.NoError(t, state.SetWatermark(ctx, KindSeries, at))
	wm, err = state.Watermark(ctx, KindSeries)
	require.NoError(t, err)
	require.True(t, wm.Equal(at))

	other, err := state.Watermark(ctx, KindSermon)
	require.NoError(t, err)
	require.Nil(t, other, "watermarks are per kind")

	require.NoError(t, state.ResetWatermark(ctx, KindSeries))
	wm, err = state.Watermark(ctx, KindSeries)
	require.NoError(t, err)
	require.Nil(t, wm)
}

func TestSyncState_ConflictLifecycle(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)

	conflict := &PendingConflict{
		Kind:     KindSermon,
		EntityID: "sermon-1",
		Local:    json.RawMessage(`{"title":"mine"}`),
		Remote:   json.RawMessage(`{"title":"theirs"}`),
		Fields:   []string{"title"},
		Reason:   ReasonConcurrentEdit,
	}
	added, err := state.AddConflict(ctx, conflict)
	require.NoError(t, err)
	require.True(t, added)
	require.NotEmpty(t, conflict.ID)

	// a second divergence for the same entity keeps the first conflict
	added, err = state.AddConflict(ctx, &PendingConflict{
		Kind: KindSermon, EntityID: "sermon-1", Local: conflict.Local, Remote: conflict.Remote,
	})
	require.NoError(t, err)
	require.False(t, added)

	pending, err := state.PendingConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, []string{"title"}, pending[0].Fields)
	require.Equal(t, ConflictPending, pending[0].Status)

	has, err := state.HasPendingConflict(ctx, KindSermon, "sermon-1")
	require.NoError(t, err)
	require.True(t, has)

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, state.MarkConflictResolved(ctx, conflict.ID, ResolutionKeepRemote, at))
	require.ErrorIs(t, state.MarkConflictResolved(ctx, conflict.ID, ResolutionKeepRemote, at), ErrConflictResolved)

	got, err := state.Conflict(ctx, conflict.ID)
	require.NoError(t, err)
	require.Equal(t, ConflictResolved, got.Status)
	require.Equal(t, ResolutionKeepRemote, got.Resolution)
	require.True(t, got.ResolvedAt.Equal(at))

	n, err := state.CountPendingConflicts(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// once resolved, a new conflict may be recorded for the same entity
	added, err = state.AddConflict(ctx, &PendingConflict{
		Kind: KindSermon, EntityID: "sermon-1", Local: conflict.Local, Remote: conflict.Remote,
	})
	require.NoError(t, err)
	require.True(t, added)

	_, err = state.Conflict(ctx, "missing")
	require.ErrorIs(t, err, ErrConflictNotFound)
}

func TestDiffFields(t *testing.T) {
	local := json.RawMessage(`{"id":"x","title":"A","notes":"n","tags":["a"],"updated_at":"2025-01-01T00:00:00Z"}`)
	remote := json.RawMessage(`{"id":"x","title":"B","notes":"n","tags":["a","b"],"updated_at":"2025-01-02T00:00:00Z","series_id":"s"}`)
	require.Equal(t, []string{"series_id", "tags", "title"}, diffFields(local, remote))
}
