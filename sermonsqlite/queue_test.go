package sermonsqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsync"
)

func TestOperationQueue_DedupKeepsPosition(t *testing.T) {
	ctx := context.Background()
	q := NewOperationQueue(newTestDB(t))
	require.NoError(t, q.Migrate(ctx))

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seriesID, sermonID := uuid.NewString(), uuid.NewString()

	require.NoError(t, q.Enqueue(ctx, &QueuedOperation{
		Kind: KindSeries, EntityID: seriesID, Op: OpUpsert, Version: 1, QueuedAt: base,
		Payload: &SeriesPayload{Series: Series{ID: seriesID, Title: "first"}},
	}))
	require.NoError(t, q.Enqueue(ctx, &QueuedOperation{
		Kind: KindSermon, EntityID: sermonID, Op: OpUpsert, Version: 1, QueuedAt: base.Add(time.Second),
		Payload: &SermonPayload{Sermon: Sermon{ID: sermonID, Title: "child", SeriesID: &seriesID}},
	}))

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.NoError(t, q.MarkFailed(ctx, ops[0].ID, 2, "boom"))

	// a later edit of the series replaces its entry in place
	require.NoError(t, q.Enqueue(ctx, &QueuedOperation{
		Kind: KindSeries, EntityID: seriesID, Op: OpDelete, Version: 2, QueuedAt: base.Add(time.Minute),
		Payload: &DeletePayload{EntityKind: KindSeries, ID: seriesID},
	}))

	ops, err = q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, seriesID, ops[0].EntityID)
	require.Equal(t, OpDelete, ops[0].Op)
	require.Equal(t, int64(2), ops[0].Version)
	require.Zero(t, ops[0].RetryCount)
	require.Empty(t, ops[0].LastError)
	require.True(t, ops[0].QueuedAt.Equal(base))
	require.Equal(t, &DeletePayload{EntityKind: KindSeries, ID: seriesID}, ops[0].Payload)

	child, ok := ops[1].Payload.(*SermonPayload)
	require.True(t, ok)
	require.Equal(t, "child", child.Sermon.Title)
	require.Equal(t, seriesID, *child.Sermon.SeriesID)

	require.NoError(t, q.RemoveEntity(ctx, KindSeries, seriesID))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestQueueOperation_OfflineThenDrainedBySync(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client
	f.transport.offline.Store(true)

	p := &SeriesPayload{Series: Series{Title: "Draft title"}}
	queued, err := c.QueueOperation(ctx, p)
	require.NoError(t, err)
	require.True(t, queued)
	id := p.Series.ID
	require.NotEmpty(t, id)

	p.Series.Title = "Final title"
	queued, err = c.QueueOperation(ctx, p)
	require.NoError(t, err)
	require.True(t, queued)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Online)
	require.Equal(t, 1, st.QueuedCount, "one entry per record")
	require.Equal(t, 1, st.PendingCount, "a dirty record that is also queued counts once")

	f.transport.offline.Store(false)
	res, err := c.SyncAll(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.Equal(t, 1, res.QueueSent)
	require.Zero(t, res.Series.Pushed, "already delivered by the queue")

	require.Equal(t, "Final title", f.remoteGet(t, KindSeries, id).(*sermonsync.SeriesPayload).Title)
	local, err := c.GetSeries(ctx, id)
	require.NoError(t, err)
	require.False(t, local.Dirty)

	n, err := c.Queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestQueueOperation_DeliversImmediatelyWhenOnline(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client

	p := &SermonPayload{Sermon: Sermon{Title: "Sent now"}}
	queued, err := c.QueueOperation(ctx, p)
	require.NoError(t, err)
	require.False(t, queued)
	require.Equal(t, "Sent now", f.remoteGet(t, KindSermon, p.Sermon.ID).(*sermonsync.SermonPayload).Title)

	queued, err = c.QueueOperation(ctx, &DeletePayload{EntityKind: KindSermon, ID: p.Sermon.ID})
	require.NoError(t, err)
	require.False(t, queued)
	require.True(t, f.remoteGet(t, KindSermon, p.Sermon.ID).IsDeleted())

	_, err = c.QueueOperation(ctx, &DeletePayload{EntityKind: "hymns", ID: p.Sermon.ID})
	require.Error(t, err)
}

func TestQueueOperation_PermanentFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	p := &SeriesPayload{Series: Series{Title: "   "}}
	queued, err := f.client.QueueOperation(ctx, p)
	require.False(t, queued)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	n, err := f.client.Queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	local, err := f.client.GetSeries(ctx, p.Series.ID)
	require.NoError(t, err)
	require.True(t, local.Dirty, "left for the next push")
}

func TestProcessQueue_DropsRejectedOperation(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client
	f.transport.offline.Store(true)

	_, err := c.QueueOperation(ctx, &SeriesPayload{Series: Series{Title: ""}})
	require.NoError(t, err)
	f.transport.offline.Store(false)

	res, err := c.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Dropped)
	require.Zero(t, res.Processed)
	require.Len(t, res.Errors, 1)

	n, err := c.Queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProcessQueue_DropsAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client
	f.transport.offline.Store(true)

	_, err := c.QueueOperation(ctx, &SeriesPayload{Series: Series{Title: "Never delivered"}})
	require.NoError(t, err)

	for attempt := 1; attempt < testRetry().MaxAttempts; attempt++ {
		res, err := c.ProcessQueue(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Failed)
		ops, err := c.Queue.List(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		require.Equal(t, attempt, ops[0].RetryCount)
		require.Contains(t, ops[0].LastError, "simulated outage")
	}

	res, err := c.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Dropped)
	n, err := c.Queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProcessQueue_KeepsMissingSeriesForRetry(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client

	// the series exists locally only
	series := &Series{Title: "Local only"}
	require.NoError(t, c.SaveSeries(ctx, series))

	f.transport.offline.Store(true)
	_, err := c.QueueOperation(ctx, &SermonPayload{Sermon: Sermon{Title: "Child", SeriesID: &series.ID}})
	require.NoError(t, err)
	f.transport.offline.Store(false)

	res, err := c.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Zero(t, res.Dropped)

	ops, err := c.Queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Contains(t, ops[0].LastError, sermonsync.ErrCodeFKMissing)
}

func TestProcessQueue_DeliveredSeriesDeleteDetachesSermons(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client

	series := &Series{Title: "Pentecost"}
	require.NoError(t, c.SaveSeries(ctx, series))
	sermon := &Sermon{Title: "Tongues of Fire", SeriesID: &series.ID}
	require.NoError(t, c.SaveSermon(ctx, sermon))
	_, err := c.SyncAll(ctx)
	require.NoError(t, err)

	f.transport.offline.Store(true)
	queued, err := c.QueueOperation(ctx, &DeletePayload{EntityKind: KindSeries, ID: series.ID})
	require.NoError(t, err)
	require.True(t, queued)
	f.transport.offline.Store(false)

	res, err := c.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	local, err := c.GetSermon(ctx, sermon.ID)
	require.NoError(t, err)
	require.Nil(t, local.SeriesID)
	require.True(t, local.Dirty)
}

func TestProcessQueue_WaitsForRunningSync(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client
	f.transport.offline.Store(true)

	p := &SeriesPayload{Series: Series{Title: "Delivered once"}}
	queued, err := c.QueueOperation(ctx, p)
	require.NoError(t, err)
	require.True(t, queued)
	f.transport.offline.Store(false)

	entered, release := f.transport.blockUpdates()
	defer release()

	var (
		wg       sync.WaitGroup
		syncRes  *SyncResult
		syncErr  error
		queueRes *QueueResult
		queueErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		syncRes, syncErr = c.SyncAll(ctx)
	}()
	<-entered
	require.True(t, c.InProgress())

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queueRes, queueErr = c.ProcessQueue(ctx)
	}()
	select {
	case <-queueDone:
		t.Fatal("queue replay ran alongside the sync session")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	wg.Wait()
	<-queueDone

	require.NoError(t, syncErr)
	require.Equal(t, 1, syncRes.QueueSent)
	require.NoError(t, queueErr)
	require.Zero(t, queueRes.Processed, "the session already drained the queue")
	require.EqualValues(t, 1, f.transport.updates.Load(), "one PUT for one queued operation")

	res, err := c.SyncAll(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Series.Pulled, "nothing new on the remote after delivery")
}

func TestQueueOperation_QueuesBehindRunningSync(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	c := f.client
	entered, release := f.transport.blockLists()
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.SyncAll(ctx)
	}()
	<-entered

	queued, err := c.QueueOperation(ctx, &SeriesPayload{Series: Series{Title: "During sync"}})
	require.NoError(t, err)
	require.True(t, queued, "the running session owns the remote")
	release()
	<-done

	n, err := c.Queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
