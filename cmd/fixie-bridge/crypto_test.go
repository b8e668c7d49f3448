// ABOUTME: Tests for crypto store helpers: key derivation, store paths and stale-store resets
// ABOUTME: Uses a throwaway sqlite database shaped like the mautrix crypto store

package main

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoStorePath(t *testing.T) {
	tests := []struct {
		userID string
		want   string
	}{
		{"@fixie:matrix.org", "matrix-crypto-fixie_matrix.org.db"},
		{"@a-b_c:example.org", "matrix-crypto-a-b_c_example.org.db"},
		{"@we/ird:host", "matrix-crypto-weird_host.db"},
	}
	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			assert.Equal(t, filepath.Join("/data", tt.want), cryptoStorePath("/data", tt.userID))
		})
	}
}

func TestDeriveStoreKey(t *testing.T) {
	k1, err := deriveStoreKey("@fixie:example.org", "recovery")
	require.NoError(t, err)
	assert.Len(t, k1, 32)

	again, err := deriveStoreKey("@fixie:example.org", "recovery")
	require.NoError(t, err)
	assert.Equal(t, k1, again, "derivation must be deterministic")

	otherUser, err := deriveStoreKey("@other:example.org", "recovery")
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherUser)

	otherSecret, err := deriveStoreKey("@fixie:example.org", "different")
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherSecret)
}

func newCryptoAccountDB(t *testing.T, path, deviceID string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE crypto_account (device_id TEXT)`)
	require.NoError(t, err)
	if deviceID != "" {
		_, err = db.Exec(`INSERT INTO crypto_account (device_id) VALUES (?)`, deviceID)
		require.NoError(t, err)
	}
}

func TestStoredDeviceID(t *testing.T) {
	dir := t.TempDir()

	got, err := storedDeviceID(filepath.Join(dir, "missing.db"))
	require.NoError(t, err)
	assert.Empty(t, got)

	empty := filepath.Join(dir, "empty.db")
	newCryptoAccountDB(t, empty, "")
	got, err = storedDeviceID(empty)
	require.NoError(t, err)
	assert.Empty(t, got)

	full := filepath.Join(dir, "full.db")
	newCryptoAccountDB(t, full, "DEV1")
	got, err = storedDeviceID(full)
	require.NoError(t, err)
	assert.Equal(t, "DEV1", got)
}

func TestDiscardStaleStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "crypto.db")
	newCryptoAccountDB(t, path, "DEV1")
	enc := &encryption{dbPath: path}

	require.NoError(t, enc.discardStaleStore("DEV1", logger))
	assert.FileExists(t, path, "same device keeps its store")

	require.NoError(t, enc.discardStaleStore("DEV2", logger))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "store for another device is removed")
}
