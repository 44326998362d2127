package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreEmailChangeReleasesOldAddress(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.AddActor(&Actor{ID: "u1", Email: "Old@Example.com"}))
	require.NoError(t, store.AddActor(&Actor{ID: "u1", Email: "new@example.com"}))

	gone, err := store.FindActorByEmail("old@example.com")
	require.NoError(t, err)
	assert.Nil(t, gone)
	found, err := store.FindActorByEmail("NEW@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "u1", found.ID)

	require.NoError(t, store.AddActor(&Actor{ID: "u2", Email: "old@example.com"}), "freed address is reusable")
	assert.Error(t, store.AddActor(&Actor{ID: "u3", Email: "new@example.com"}))
}
