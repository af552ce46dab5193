package sermonsqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewScheduler_RejectsInvalidSchedule(t *testing.T) {
	f := newSyncFixture(t)
	_, err := NewScheduler(f.client, "every now and then", nil)
	require.Error(t, err)
	_, err = NewScheduler(nil, "@every 1m", nil)
	require.Error(t, err)
}

func TestScheduler_TriggerHonorsPause(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	require.NoError(t, f.client.SaveSeries(ctx, &Series{Title: "Scheduled"}))

	results := make(chan *SyncResult, 4)
	s, err := NewScheduler(f.client, "@every 1h", func(res *SyncResult, err error) {
		require.NoError(t, err)
		results <- res
	})
	require.NoError(t, err)

	f.client.Pause()
	s.Trigger()
	require.Empty(t, results)

	f.client.Resume()
	s.Trigger()
	select {
	case res := <-results:
		require.True(t, res.Success)
		require.Equal(t, 1, res.Series.Pushed)
	case <-time.After(time.Second):
		t.Fatal("no scheduled result")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	f := newSyncFixture(t)
	results := make(chan *SyncResult, 8)
	s, err := NewScheduler(f.client, "@every 1s", func(res *SyncResult, err error) {
		results <- res
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	select {
	case res := <-results:
		require.NotNil(t, res)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler never fired")
	}
	s.Stop()
	s.Stop()
}

func TestScheduler_StopWaitsForRunNow(t *testing.T) {
	f := newSyncFixture(t)
	entered, release := f.transport.blockLists()
	defer release()

	errs := make(chan error, 1)
	s, err := NewScheduler(f.client, "@every 1h", func(_ *SyncResult, err error) {
		errs <- err
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	s.RunNow()
	<-entered
	require.True(t, f.client.InProgress())

	s.Stop()
	require.False(t, f.client.InProgress(), "Stop returns after the session ended")
	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrSyncCancelled)
	default:
		t.Fatal("session result not delivered before Stop returned")
	}
}

func TestStatus_ReportsState(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.Online)
	require.True(t, st.Authenticated)
	require.False(t, st.InProgress)
	require.Equal(t, PhaseIdle, st.Phase)
	require.Nil(t, st.LastSyncTime)

	require.NoError(t, c.SaveSeries(ctx, &Series{Title: "One"}))
	require.NoError(t, c.SaveSermon(ctx, &Sermon{Title: "Two"}))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.PendingCount)

	_, err = c.SyncAll(ctx)
	require.NoError(t, err)
	st, err = c.Status(ctx)
	require.NoError(t, err)
	require.Zero(t, st.PendingCount)
	require.NotNil(t, st.LastSyncTime)
}
