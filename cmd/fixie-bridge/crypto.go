// ABOUTME: End-to-end encryption setup for the Matrix side of fixie-bridge
// ABOUTME: Wires mautrix cryptohelper with an HKDF-derived store key and stale-store recovery

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/hkdf"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// storeKeyInfo binds derived pickle keys to this application.
const storeKeyInfo = "fixie-bridge matrix crypto store v1"

// encryption owns the olm machine attached to the bridge's client.
type encryption struct {
	helper *cryptohelper.CryptoHelper
	dbPath string
}

// enableEncryption attaches a crypto helper to client and cross-signs the
// device with recoveryKey. A failed cross-sign is logged, not returned.
func enableEncryption(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*encryption, error) {
	logger = logger.With("component", "crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	enc := &encryption{dbPath: cryptoStorePath(dataDir, userID)}

	if err := enc.discardStaleStore(client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	pickleKey, err := deriveStoreKey(userID, recoveryKey)
	if err != nil {
		return nil, err
	}

	enc.helper, err = cryptohelper.NewCryptoHelper(client, pickleKey, enc.dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := enc.helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = enc.helper

	machine := enc.helper.Machine()
	switch {
	case machine == nil:
		logger.Warn("encryption enabled without cross-signing", "reason", "no olm machine")
	default:
		if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
			logger.Warn("encryption enabled without cross-signing", "error", err)
		} else {
			logger.Info("encryption enabled", "store", enc.dbPath)
		}
	}
	return enc, nil
}

// Close releases the crypto store.
func (e *encryption) Close() error {
	if e == nil || e.helper == nil {
		return nil
	}
	return e.helper.Close()
}

// discardStaleStore removes a crypto database that was written for another device.
func (e *encryption) discardStaleStore(deviceID string, logger *slog.Logger) error {
	stored, err := storedDeviceID(e.dbPath)
	if err != nil {
		logger.Debug("crypto store unreadable, keeping it", "error", err)
		return nil
	}
	if stored == "" || stored == deviceID {
		return nil
	}

	logger.Warn("crypto store belongs to another device, resetting",
		"stored_device", stored,
		"device", deviceID,
	)
	if err := os.Remove(e.dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale crypto store: %w", err)
	}
	for _, sidecar := range []string{"-wal", "-shm"} {
		_ = os.Remove(e.dbPath + sidecar)
	}
	return nil
}

// cryptoStorePath names the per-account crypto database inside dataDir.
// @fixie:matrix.org maps to matrix-crypto-fixie_matrix.org.db.
func cryptoStorePath(dataDir, userID string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '_'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return -1
	}, strings.TrimPrefix(userID, "@"))
	return filepath.Join(dataDir, "matrix-crypto-"+slug+".db")
}

// deriveStoreKey derives the 32-byte pickle key for the crypto store.
// The recovery key is the secret and the user id the salt.
func deriveStoreKey(userID, recoveryKey string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(recoveryKey), []byte(userID), []byte(storeKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving crypto store key: %w", err)
	}
	return key, nil
}

// storedDeviceID returns the device the crypto database at path was created
// for, or "" when there is no database or no account in it yet.
func storedDeviceID(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var deviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return deviceID, err
}
