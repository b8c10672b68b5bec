package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestWatchFileReloadsNonStructuralField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeConfigFile(t, path, `{"tools": {"profile": "minimal"}}`)

	live, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := WatchFile(path, live)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	writeConfigFile(t, path, `{"tools": {"profile": "full"}}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		live.mu.RLock()
		profile := live.Tools.Profile
		live.mu.RUnlock()
		if profile == "full" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected live config to pick up the reloaded tools.profile field")
}

func TestStructuralFieldChangedDetectsPortChange(t *testing.T) {
	before := Default()
	after := Default()
	after.Gateway.Port = before.Gateway.Port + 1

	if !structuralFieldChanged("gateway.port", before, after) {
		t.Fatal("expected a changed port to be detected as structural")
	}
	if structuralFieldChanged("gateway.port", before, before) {
		t.Fatal("expected an unchanged port not to be flagged")
	}
}

func TestStructuralFieldChangedIgnoresUnknownField(t *testing.T) {
	before := Default()
	after := Default()
	after.Gateway.Port = before.Gateway.Port + 1

	if structuralFieldChanged("gateway.nonexistent", before, after) {
		t.Fatal("expected an unknown field name to report no change")
	}
}
