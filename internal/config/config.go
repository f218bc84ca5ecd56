// Package config loads and validates the YAML configuration shared by the
// meshbridge-gateway and meshbridge-proxy binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document for either binary. Both
// mains load the same shape; the proxy simply never touches Archive or
// Housekeeping.
type Config struct {
	Node         NodeInfo         `yaml:"node"`
	Logging      LoggingInfo      `yaml:"logging"`
	Radio        RadioInfo        `yaml:"radio"`
	RateLimit    RateLimitInfo    `yaml:"rate_limit"`
	Transport    TransportInfo    `yaml:"transport"`
	Envelope     EnvelopeInfo     `yaml:"envelope"`
	Housekeeping HousekeepingInfo `yaml:"housekeeping"`
	Archive      ArchiveInfo      `yaml:"archive"`
}

// NodeInfo identifies this process on the mesh.
type NodeInfo struct {
	ID string `yaml:"id"`
}

// LoggingInfo configures output level, format, and destination.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// RadioInfo configures the radio adapter. Simulated is only meaningful for
// local testing/demo; a real deployment wires a Meshtastic driver outside
// this module and ignores the drop/reorder/duplicate/delay knobs.
type RadioInfo struct {
	Simulated     bool    `yaml:"simulated"`
	DropRate      float64 `yaml:"drop_rate"`
	ReorderWindow int     `yaml:"reorder_window"`
	DuplicateRate float64 `yaml:"duplicate_rate"`
	MaxDelayMS    int     `yaml:"max_delay_ms"`
	MaxInFlight   int     `yaml:"max_in_flight"`  // 0 disables the simulated busy signal
	BusyWindowMS  int     `yaml:"busy_window_ms"` // how long a simulated send occupies the channel
}

// RateLimitInfo feeds the multiplexer's outbound token bucket. Only
// BytesPerSec reaches it; BurstBytes is parsed but not passed on, and the
// bucket's burst is derived from BytesPerSec.
type RateLimitInfo struct {
	BytesPerSec string `yaml:"bytes_per_sec"` // e.g. "2kb", "512b"
	BurstBytes  string `yaml:"burst_bytes"`

	BytesPerSecRaw int64 `yaml:"-"`
	BurstBytesRaw  int64 `yaml:"-"`
}

// TransportInfo holds the stream/window/retransmission tuning from spec.md
// §6's configuration table.
type TransportInfo struct {
	ChunkPayloadSize    int `yaml:"chunk_payload_size"`
	WindowSize          int `yaml:"window_size"`
	RetransmitTimeoutMS int `yaml:"retransmit_timeout_ms"`
	MaxRetransmits      int `yaml:"max_retransmits"`
	StreamTimeoutS      int `yaml:"stream_timeout_s"`

	RetransmitTimeout time.Duration `yaml:"-"`
	StreamTimeout     time.Duration `yaml:"-"`
}

// EnvelopeInfo holds the envelope layer's settings. The gateway applies
// only ReassemblyTTLS and DedupWindow. BurstSize, ReliabilityStrategy and
// ParityWindowSize are parsed but not applied: staged sends use a fixed
// stage size, the parity window is the envelope.ParityWindowSize constant,
// and the gateway always replies with the simple strategy.
type EnvelopeInfo struct {
	BurstSize           int    `yaml:"burst_size"`
	ReassemblyTTLS      int    `yaml:"reassembly_ttl_s"`
	ReliabilityStrategy string `yaml:"reliability_strategy"` // simple|staged|windowed|parity
	DedupWindow         int    `yaml:"dedup_window"`
	ParityWindowSize    int    `yaml:"parity_window_size"`

	ReassemblyTTL time.Duration `yaml:"-"`
}

// HousekeepingInfo configures the periodic maintenance sweeps.
type HousekeepingInfo struct {
	SweepSchedule string `yaml:"sweep_schedule"` // cron expression
}

// ArchiveInfo configures the optional S3-compatible audit sink.
type ArchiveInfo struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// Load reads, parses, and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Transport.ChunkPayloadSize <= 0 {
		c.Transport.ChunkPayloadSize = 180
	}
	if c.Transport.ChunkPayloadSize > 180 {
		return fmt.Errorf("transport.chunk_payload_size must be <= 180, got %d", c.Transport.ChunkPayloadSize)
	}
	if c.Transport.WindowSize <= 0 {
		c.Transport.WindowSize = 4
	}
	if c.Transport.RetransmitTimeoutMS <= 0 {
		c.Transport.RetransmitTimeoutMS = 5000
	}
	c.Transport.RetransmitTimeout = time.Duration(c.Transport.RetransmitTimeoutMS) * time.Millisecond
	if c.Transport.MaxRetransmits <= 0 {
		c.Transport.MaxRetransmits = 5
	}
	if c.Transport.StreamTimeoutS <= 0 {
		c.Transport.StreamTimeoutS = 120
	}
	c.Transport.StreamTimeout = time.Duration(c.Transport.StreamTimeoutS) * time.Second

	if c.Envelope.BurstSize <= 0 {
		c.Envelope.BurstSize = 5
	}
	if c.Envelope.ReassemblyTTLS <= 0 {
		c.Envelope.ReassemblyTTLS = 120
	}
	c.Envelope.ReassemblyTTL = time.Duration(c.Envelope.ReassemblyTTLS) * time.Second
	if c.Envelope.ReliabilityStrategy == "" {
		c.Envelope.ReliabilityStrategy = "simple"
	}
	switch c.Envelope.ReliabilityStrategy {
	case "simple", "staged", "windowed", "parity":
	default:
		return fmt.Errorf("envelope.reliability_strategy must be one of simple|staged|windowed|parity, got %q", c.Envelope.ReliabilityStrategy)
	}
	if c.Envelope.DedupWindow <= 0 {
		c.Envelope.DedupWindow = 1024
	}
	if c.Envelope.ParityWindowSize <= 0 {
		c.Envelope.ParityWindowSize = 4
	}

	if c.RateLimit.BytesPerSec == "" {
		c.RateLimit.BytesPerSec = "0" // unlimited
	}
	parsed, err := ParseByteSize(c.RateLimit.BytesPerSec)
	if err != nil {
		return fmt.Errorf("rate_limit.bytes_per_sec: %w", err)
	}
	c.RateLimit.BytesPerSecRaw = parsed

	if c.RateLimit.BurstBytes == "" {
		c.RateLimit.BurstBytes = "0"
	}
	burstParsed, err := ParseByteSize(c.RateLimit.BurstBytes)
	if err != nil {
		return fmt.Errorf("rate_limit.burst_bytes: %w", err)
	}
	c.RateLimit.BurstBytesRaw = burstParsed

	if c.Housekeeping.SweepSchedule == "" {
		c.Housekeeping.SweepSchedule = "@every 1m"
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive.enabled is true")
		}
		if c.Archive.Prefix == "" {
			c.Archive.Prefix = "meshbridge"
		}
	}

	if c.Radio.Simulated {
		if c.Radio.DropRate < 0 || c.Radio.DropRate > 1 {
			return fmt.Errorf("radio.drop_rate must be between 0 and 1, got %f", c.Radio.DropRate)
		}
		if c.Radio.DuplicateRate < 0 || c.Radio.DuplicateRate > 1 {
			return fmt.Errorf("radio.duplicate_rate must be between 0 and 1, got %f", c.Radio.DuplicateRate)
		}
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb", "0" to
// a raw byte count, mirroring the convention used across the config
// package for every size-like field.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
