package gateway

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"
)

func openTestRegistry(t *testing.T) *DeviceRegistry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.db")
	reg, err := OpenDeviceRegistry(path)
	if err != nil {
		t.Fatalf("OpenDeviceRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestDeviceRegistryPairAndVerify(t *testing.T) {
	reg := openTestRegistry(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	if err := reg.Pair("device-1", pubB64, "my laptop"); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	nonce := "test-nonce"
	issuedAt := time.Now()
	sig := ed25519.Sign(priv, []byte(nonce))
	sigHex := hex.EncodeToString(sig)

	ok, err := reg.Verify("device-1", nonce, issuedAt, sigHex)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected a correctly signed nonce to verify")
	}
}

func TestDeviceRegistryRejectsBadSignature(t *testing.T) {
	reg := openTestRegistry(t)

	pub, _, _ := ed25519.GenerateKey(nil)
	_, wrongPriv, _ := ed25519.GenerateKey(nil)
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	if err := reg.Pair("device-1", pubB64, ""); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	nonce := "test-nonce"
	sig := ed25519.Sign(wrongPriv, []byte(nonce))
	sigHex := hex.EncodeToString(sig)

	ok, err := reg.Verify("device-1", nonce, time.Now(), sigHex)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected a signature from the wrong key to be rejected")
	}
}

func TestDeviceRegistryRejectsExpiredNonce(t *testing.T) {
	reg := openTestRegistry(t)

	pub, priv, _ := ed25519.GenerateKey(nil)
	pubB64 := base64.StdEncoding.EncodeToString(pub)
	if err := reg.Pair("device-1", pubB64, ""); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	nonce := "stale-nonce"
	sig := ed25519.Sign(priv, []byte(nonce))
	sigHex := hex.EncodeToString(sig)

	stale := time.Now().Add(-nonceMaxAge - time.Minute)
	ok, err := reg.Verify("device-1", nonce, stale, sigHex)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected an expired nonce to be rejected")
	}
}

func TestDeviceRegistryRevoke(t *testing.T) {
	reg := openTestRegistry(t)

	pub, priv, _ := ed25519.GenerateKey(nil)
	pubB64 := base64.StdEncoding.EncodeToString(pub)
	if err := reg.Pair("device-1", pubB64, ""); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if err := reg.Revoke("device-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	nonce := "test-nonce"
	sig := ed25519.Sign(priv, []byte(nonce))
	ok, err := reg.Verify("device-1", nonce, time.Now(), hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected a revoked device to fail verification")
	}
}

func TestDeviceRegistryList(t *testing.T) {
	reg := openTestRegistry(t)

	pub1, _, _ := ed25519.GenerateKey(nil)
	pub2, _, _ := ed25519.GenerateKey(nil)
	reg.Pair("device-1", base64.StdEncoding.EncodeToString(pub1), "laptop")
	reg.Pair("device-2", base64.StdEncoding.EncodeToString(pub2), "phone")

	devices, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
}
