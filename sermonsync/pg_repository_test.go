package sermonsync

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func newPGRepository(t *testing.T) *PGRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo := NewPGRepository(pool, logger)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func TestPGRepository_ServiceRoundTrip(t *testing.T) {
	repo := newPGRepository(t)
	ctx := context.Background()
	svc := NewService(repo, &ServiceConfig{AppName: "pg-test"}, nil)
	userID := "pg-user-" + uuid.NewString()

	series, err := svc.Create(ctx, userID, &SeriesPayload{ID: uuid.NewString(), Title: "Romans"})
	require.NoError(t, err)
	seriesID := series.EntityID()

	sermon, err := svc.Create(ctx, userID, &SermonPayload{
		ID: uuid.NewString(), Title: "Grace", SeriesID: &seriesID, Tags: []string{"grace", "faith"},
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, userID, &SeriesPayload{ID: seriesID, Title: "dup"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, err := repo.Get(ctx, userID, KindSermons, sermon.EntityID())
	require.NoError(t, err)
	s := got.(*SermonPayload)
	require.Equal(t, []string{"grace", "faith"}, s.Tags)
	require.Equal(t, seriesID, *s.SeriesID)
	require.True(t, s.UpdatedAt.Equal(sermon.LastUpdated()))

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, svc.Delete(ctx, userID, KindSeries, seriesID))

	got, err = repo.Get(ctx, userID, KindSermons, sermon.EntityID())
	require.NoError(t, err)
	require.Nil(t, got.(*SermonPayload).SeriesID)

	list, err := svc.List(ctx, userID, KindSeries, ListQuery{IncludeDeleted: true})
	require.NoError(t, err)
	require.Equal(t, 1, list.Pagination.Total)

	live, err := svc.List(ctx, userID, KindSeries, ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 0, live.Pagination.Total)

	require.ErrorIs(t, svc.Delete(ctx, userID, KindSeries, seriesID), ErrNotFound)
}
