package sessions_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rayluo/identity/sessions"
)

func TestMapStoreRoundTrip(t *testing.T) {
	store := sessions.NewMapStore()

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set("key", "value"))

	v, ok, err := store.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestMapStoreSetReplaces(t *testing.T) {
	store := sessions.NewMapStore()

	require.NoError(t, store.Set("key", "first"))
	require.NoError(t, store.Set("key", "second"))

	v, ok, err := store.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", v)
}

func TestMapStoreDelete(t *testing.T) {
	store := sessions.NewMapStore()

	require.NoError(t, store.Set("key", "value"))
	require.NoError(t, store.Delete("key"))

	_, ok, err := store.Get("key")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Delete("key"))
}
