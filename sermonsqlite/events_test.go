package sermonsqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	fast, unsubFast := bus.Subscribe(4)
	defer unsubFast()
	_, unsubSlow := bus.Subscribe(1)
	defer unsubSlow()
	require.Equal(t, 2, bus.Subscribers())

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Progress: &Progress{Phase: PhaseParentPush, Current: i}})
	}
	require.Len(t, fast, 3)
	require.Equal(t, int64(2), bus.Dropped(), "slow subscriber missed two events")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.Subscribe(0)
	unsubscribe()
	unsubscribe() // second call is a no-op

	_, open := <-ch
	require.False(t, open)
	require.Zero(t, bus.Subscribers())
	bus.Publish(Event{Result: &SyncResult{}})
}
