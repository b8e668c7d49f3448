// ABOUTME: Tests for the SQL store against SQLite
// ABOUTME: Covers schema creation, user upserts, agent binding and delivery history

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SaveUser(context.Background(), &User{ID: "42", Pseudonym: "ann"}))
	require.NoError(t, s.Close())

	s, err = Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	defer s.Close()

	u, err := s.GetUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Pseudonym)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveUser_UpsertKeepsAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann", ChatID: "!room:a"}))
	require.NoError(t, s.SetAgentID(ctx, "42", "A1"))

	// re-registration changes the pseudonym but must not drop the agent
	require.NoError(t, s.SaveUser(ctx, &User{ID: "42", Pseudonym: "annie", ChatID: "!room:b"}))

	u, err := s.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "annie", u.Pseudonym)
	assert.Equal(t, "!room:b", u.ChatID)
	assert.Equal(t, "A1", u.AgentID)
	assert.True(t, u.Provisioned())
	assert.False(t, u.CreatedAt.IsZero())
}

func TestSetAgentID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SetAgentID(ctx, "missing", "A1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann"}))
	require.NoError(t, s.SetAgentID(ctx, "42", "A1"))
	require.NoError(t, s.SetAgentID(ctx, "42", ""))

	u, err := s.GetUser(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, u.AgentID)
	assert.False(t, u.Provisioned())
}

func TestDeleteUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, &User{ID: "42", Pseudonym: "ann"}))
	require.NoError(t, s.RecordDelivery(ctx, &Delivery{UserID: "42", Request: "hi", Status: DeliveryDropped}))

	require.NoError(t, s.DeleteUser(ctx, "42"))
	assert.ErrorIs(t, s.DeleteUser(ctx, "42"), ErrNotFound)

	_, err := s.GetUser(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	ds, err := s.ListDeliveries(ctx, "42", 0)
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestListUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveUser(ctx, &User{ID: id, Pseudonym: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	users, err := s.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "c", users[0].ID)
	assert.Equal(t, "a", users[2].ID)

	users, err = s.ListUsers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestDeliveries_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordDelivery(ctx, &Delivery{
		UserID: "42", AgentID: "A1", Request: "one", Reply: "hi",
		Status: DeliveryDelivered, CreatedAt: base,
	}))
	require.NoError(t, s.RecordDelivery(ctx, &Delivery{
		UserID: "42", AgentID: "A1", Request: "two",
		Status: DeliveryFailed, Error: "upstream 500", CreatedAt: base.Add(time.Millisecond),
	}))
	require.NoError(t, s.RecordDelivery(ctx, &Delivery{UserID: "7", Request: "other", Status: DeliveryDropped}))

	ds, err := s.ListDeliveries(ctx, "42", 10)
	require.NoError(t, err)
	require.Len(t, ds, 2)

	assert.Equal(t, "two", ds[0].Request)
	assert.Equal(t, DeliveryFailed, ds[0].Status)
	assert.Equal(t, "upstream 500", ds[0].Error)
	assert.Empty(t, ds[0].Reply)

	assert.Equal(t, "one", ds[1].Request)
	assert.Equal(t, "hi", ds[1].Reply)
	assert.NotEmpty(t, ds[1].ID)
	assert.True(t, ds[1].CreatedAt.Equal(base))
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
