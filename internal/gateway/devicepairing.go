package gateway

import (
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// nonceMaxAge bounds how long a connect.challenge nonce remains valid
// for a device-identity auth attempt (spec §4.11: "verifies... the
// nonce-age window").
const nonceMaxAge = 2 * time.Minute

// DeviceRecord is one paired device's durable identity (spec §4.11's
// expanded device-pairing registry: "the one piece of gateway state
// that is genuinely relational").
type DeviceRecord struct {
	DeviceID   string
	PublicKey  string // base64-encoded ed25519 public key
	Label      string
	PairedAt   time.Time
	LastSeenAt time.Time
	Revoked    bool
}

// DeviceRegistry persists paired device identities in a sqlite database
// so the gateway's connect handler can authenticate device-identity
// attempts across restarts instead of keeping them only in memory.
type DeviceRegistry struct {
	db *sql.DB
}

// OpenDeviceRegistry opens (creating if necessary) the sqlite database
// at path and ensures its schema exists.
func OpenDeviceRegistry(path string) (*DeviceRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("devicepairing: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("devicepairing: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS devices (
			device_id    TEXT PRIMARY KEY,
			public_key   TEXT NOT NULL,
			label        TEXT NOT NULL DEFAULT '',
			paired_at    DATETIME NOT NULL,
			last_seen_at DATETIME,
			revoked      INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("devicepairing: migrate schema: %w", err)
	}

	return &DeviceRegistry{db: db}, nil
}

// Close releases the underlying database handle.
func (r *DeviceRegistry) Close() error { return r.db.Close() }

// Pair records a new device identity, or replaces an existing one under
// the same device id (re-pairing rotates the stored public key).
func (r *DeviceRegistry) Pair(deviceID, publicKeyB64, label string) error {
	if deviceID == "" || publicKeyB64 == "" {
		return fmt.Errorf("devicepairing: device_id and public_key are required")
	}
	if _, err := base64.StdEncoding.DecodeString(publicKeyB64); err != nil {
		return fmt.Errorf("devicepairing: public_key must be base64: %w", err)
	}
	_, err := r.db.Exec(`
		INSERT INTO devices (device_id, public_key, label, paired_at, revoked)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(device_id) DO UPDATE SET
			public_key = excluded.public_key,
			label      = excluded.label,
			revoked    = 0
	`, deviceID, publicKeyB64, label, time.Now())
	return err
}

// Verify checks a device-identity connect attempt: the device must be
// paired, not revoked, the nonce must be within nonceMaxAge of issuedAt,
// and signature must be a valid detached ed25519 signature over nonce
// under the device's recorded public key. On success it stamps
// last_seen_at.
func (r *DeviceRegistry) Verify(deviceID, nonce string, issuedAt time.Time, signatureHex string) (bool, error) {
	row := r.db.QueryRow(`SELECT public_key, revoked FROM devices WHERE device_id = ?`, deviceID)
	var pubKeyB64 string
	var revoked bool
	if err := row.Scan(&pubKeyB64, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	if revoked {
		return false, nil
	}
	if time.Since(issuedAt) > nonceMaxAge {
		return false, nil
	}

	pubKey, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("devicepairing: corrupt public key for %s", deviceID)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, nil
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(nonce), sig) {
		return false, nil
	}

	_, _ = r.db.Exec(`UPDATE devices SET last_seen_at = ? WHERE device_id = ?`, time.Now(), deviceID)
	return true, nil
}

// Revoke marks a device as no longer trusted. Future Verify calls for
// it fail until a fresh Pair re-establishes it.
func (r *DeviceRegistry) Revoke(deviceID string) error {
	_, err := r.db.Exec(`UPDATE devices SET revoked = 1 WHERE device_id = ?`, deviceID)
	return err
}

// List returns every recorded device, paired or revoked.
func (r *DeviceRegistry) List() ([]DeviceRecord, error) {
	rows, err := r.db.Query(`SELECT device_id, public_key, label, paired_at, last_seen_at, revoked FROM devices ORDER BY paired_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		var lastSeen sql.NullTime
		if err := rows.Scan(&rec.DeviceID, &rec.PublicKey, &rec.Label, &rec.PairedAt, &lastSeen, &rec.Revoked); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			rec.LastSeenAt = lastSeen.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
