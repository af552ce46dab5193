package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "user-1", DeviceID: "device-a"})

	id, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "user-1", id.UserID)
	require.Equal(t, "device-a", id.DeviceID)
}

func TestIdentityMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	_, ok = FromContext(WithIdentity(context.Background(), Identity{DeviceID: "device-a"}))
	require.False(t, ok, "an identity without a user is not authenticated")

	id, ok := FromContext(WithIdentity(context.Background(), Identity{UserID: "user-1"}))
	require.True(t, ok)
	require.Empty(t, id.DeviceID)
}
