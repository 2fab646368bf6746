package seen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryAdmitOnce(t *testing.T) {
	store := NewMemory(0)
	ctx := context.Background()

	admitted, err := store.Admit(ctx, "note:n1")
	require.NoError(t, err)
	require.True(t, admitted)

	admitted, err = store.Admit(ctx, "note:n1")
	require.NoError(t, err)
	require.False(t, admitted)

	admitted, err = store.Admit(ctx, "note:n2")
	require.NoError(t, err)
	require.True(t, admitted)
}

func TestMemoryTTLExpiry(t *testing.T) {
	store := NewMemory(time.Hour)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	admitted, err := store.Admit(ctx, "note:n1")
	require.NoError(t, err)
	require.True(t, admitted)

	now = now.Add(30 * time.Minute)
	admitted, err = store.Admit(ctx, "note:n1")
	require.NoError(t, err)
	require.False(t, admitted, "still inside the TTL window")

	now = now.Add(31 * time.Minute)
	admitted, err = store.Admit(ctx, "note:n1")
	require.NoError(t, err)
	require.True(t, admitted, "entry expired, key admits again")
}
