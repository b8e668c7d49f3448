// ABOUTME: Tests for the cached directory wrapper
// ABOUTME: Verifies hits skip the backing store and writes evict

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedDirectory_HitSkipsBackend(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()
	require.NoError(t, mock.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann"}))

	c := NewCachedDirectory(mock, 16, time.Minute)

	for i := 0; i < 3; i++ {
		u, err := c.GetUser(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, "ann", u.Pseudonym)
	}
	assert.Equal(t, 1, mock.GetUserCalls)
}

func TestCachedDirectory_WriteEvicts(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()
	require.NoError(t, mock.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann"}))

	c := NewCachedDirectory(mock, 16, time.Minute)

	u, err := c.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, u.AgentID)

	require.NoError(t, c.SetAgentID(ctx, "42", "A1"))

	u, err = c.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "A1", u.AgentID)
	assert.Equal(t, 2, mock.GetUserCalls)
}

func TestCachedDirectory_MissNotCached(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()
	c := NewCachedDirectory(mock, 16, time.Minute)

	_, err := c.GetUser(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann"}))
	u, err := c.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Pseudonym)
}

func TestCachedDirectory_ReturnedValueIsCopy(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()
	require.NoError(t, mock.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann"}))
	c := NewCachedDirectory(mock, 16, time.Minute)

	u, err := c.GetUser(ctx, "42")
	require.NoError(t, err)
	u.Pseudonym = "mutated"

	u, err = c.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Pseudonym)
}
