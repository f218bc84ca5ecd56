package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: gw-1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.WindowSize != 4 {
		t.Fatalf("WindowSize = %d, want 4", cfg.Transport.WindowSize)
	}
	if cfg.Transport.ChunkPayloadSize != 180 {
		t.Fatalf("ChunkPayloadSize = %d, want 180", cfg.Transport.ChunkPayloadSize)
	}
	if cfg.Envelope.ReliabilityStrategy != "simple" {
		t.Fatalf("ReliabilityStrategy = %q, want simple", cfg.Envelope.ReliabilityStrategy)
	}
	if cfg.Transport.RetransmitTimeout.String() != "5s" {
		t.Fatalf("RetransmitTimeout = %s, want 5s", cfg.Transport.RetransmitTimeout)
	}
}

func TestLoadMissingNodeID(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load: want error for missing node.id, got nil")
	}
}

func TestLoadRejectsOversizedChunk(t *testing.T) {
	path := writeConfig(t, `
node:
  id: gw-1
transport:
  chunk_payload_size: 400
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load: want error for oversized chunk_payload_size, got nil")
	}
}

func TestLoadRejectsBadStrategy(t *testing.T) {
	path := writeConfig(t, `
node:
  id: gw-1
envelope:
  reliability_strategy: bogus
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load: want error for unknown reliability_strategy, got nil")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"0":    0,
		"10b":  10,
		"1kb":  1024,
		"2mb":  2 * 1024 * 1024,
		"1gb":  1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}
