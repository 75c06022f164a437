package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataPlane.ChunkSize != 5000 {
		t.Fatalf("expected default chunk size 5000, got %d", cfg.DataPlane.ChunkSize)
	}
	if cfg.ControlPlane.DeadInterval.AsDuration() != 7*time.Second {
		t.Fatalf("expected default dead interval 7s, got %v", cfg.ControlPlane.DeadInterval)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	contents := `
data_plane:
  chunk_size: 1400
  ack_timeout: 500ms
logging:
  file: rover.log
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataPlane.ChunkSize != 1400 {
		t.Fatalf("expected chunk size 1400, got %d", cfg.DataPlane.ChunkSize)
	}
	if cfg.DataPlane.AckTimeout.AsDuration() != 500*time.Millisecond {
		t.Fatalf("expected ack timeout 500ms, got %v", cfg.DataPlane.AckTimeout)
	}
	if cfg.Logging.File != "rover.log" {
		t.Fatalf("expected logging.file rover.log, got %q", cfg.Logging.File)
	}
	// Untouched fields still carry their defaults.
	if cfg.ControlPlane.PeriodicInterval.AsDuration() != 5*time.Second {
		t.Fatalf("expected default periodic interval 5s, got %v", cfg.ControlPlane.PeriodicInterval)
	}
}

func TestLoadJSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.json")
	contents := `{"data_plane": {"chunk_size": 2000}}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataPlane.ChunkSize != 2000 {
		t.Fatalf("expected chunk size 2000, got %d", cfg.DataPlane.ChunkSize)
	}
}
