package dnsrank

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotDumpAndLoadRoundTrip(t *testing.T) {
	s := NewBindState(DefaultBindParams())
	s.Add("a")
	s.Observe("a", 0.42, NOERROR, []Server{"a"})

	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := DumpSnapshot(path, s); err != nil {
		t.Fatalf("DumpSnapshot failed: %v", err)
	}

	loaded := NewBindState(DefaultBindParams())
	if err := LoadSnapshot(path, loaded, []Server{"a"}); err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if math.Abs(loaded.SR["a"]-s.SR["a"]) > 1e-9 {
		t.Errorf("expected SR to round-trip through YAML, got %v want %v", loaded.SR["a"], s.SR["a"])
	}
}

func TestLoadSnapshotMissingFileAddsKnownServers(t *testing.T) {
	s := NewBindState(DefaultBindParams())
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	if err := LoadSnapshot(path, s, []Server{"a", "b"}); err != nil {
		t.Fatalf("expected no error for missing snapshot, got %v", err)
	}
	if _, ok := s.SR["a"]; !ok {
		t.Error("expected server a to be added despite missing snapshot")
	}
	if _, ok := s.SR["b"]; !ok {
		t.Error("expected server b to be added despite missing snapshot")
	}
}

func TestLoadSnapshotRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	s := NewBindState(DefaultBindParams())
	if err := LoadSnapshot(path, s, nil); err == nil {
		t.Error("expected error loading malformed YAML snapshot")
	}
}
