// Package config loads and validates WorldConfig, the kernel's
// initialization parameters, from a HuJSON (JSON-with-comments) file so a
// checked-in tuning file can document each knob inline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"
)

// WorldConfig contains world initialization parameters. The kernel
// packages do not read it: NewWorld takes no configuration, chunk
// capacity is the constant chunk.Capacity, and the recorder uses its own
// fixed queue depth and retry count.
type WorldConfig struct {
	MaxEntities    int           `json:"max_entities"`     // Entity index capacity (<= kinetic.MaxEntities)
	ChunkCapacity  int           `json:"chunk_capacity"`    // Elements per chunk; must be a power of two
	EnableEvents   bool          `json:"enable_events"`     // Enable the double-buffered event bus
	ThreadPoolSize int           `json:"thread_pool_size"`  // Parallel system fan-out width
	QueryCacheSize int           `json:"query_cache_size"`  // Query result cache capacity
	GCInterval     time.Duration `json:"gc_interval"`       // Idle-chunk reclaim frequency

	// Recording tuning.
	RecorderQueueDepth   int  `json:"recorder_queue_depth"`   // Frames buffered before backpressure
	RecorderCompress     bool `json:"recorder_compress"`      // Enable per-frame zstd compression
	RecorderMaxRetries   int  `json:"recorder_max_retries"`   // Sink write retries before poisoning

	// Debug and development.
	EnableDebugMode bool `json:"enable_debug_mode"` // Extra invariant checks, slower
	LogLevel        int  `json:"log_level"`         // Logging verbosity (0-4)
}

// DefaultWorldConfig returns a default configuration suitable for a
// single-process simulation of a few thousand entities.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		MaxEntities:        10000,
		ChunkCapacity:      16384,
		EnableEvents:       true,
		ThreadPoolSize:     4,
		QueryCacheSize:     1000,
		GCInterval:         30 * time.Second,
		RecorderQueueDepth: 64,
		RecorderCompress:   false,
		RecorderMaxRetries: 5,
		EnableDebugMode:    false,
		LogLevel:           2, // Info level
	}
}

// Load reads path as HuJSON, applying its fields over DefaultWorldConfig
// so a config file only needs to mention the knobs it overrides.
func Load(path string) (WorldConfig, error) {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return WorldConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes HuJSON bytes into a WorldConfig layered over the default.
func Parse(raw []byte) (WorldConfig, error) {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return WorldConfig{}, fmt.Errorf("config: %w", err)
	}
	cfg := DefaultWorldConfig()
	if err := json.Unmarshal(std, &cfg); err != nil {
		return WorldConfig{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return WorldConfig{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the kernel cannot honor.
func (c WorldConfig) Validate() error {
	if c.MaxEntities <= 0 {
		return fmt.Errorf("config: max_entities must be positive, got %d", c.MaxEntities)
	}
	if c.ChunkCapacity <= 0 || c.ChunkCapacity&(c.ChunkCapacity-1) != 0 {
		return fmt.Errorf("config: chunk_capacity must be a power of two, got %d", c.ChunkCapacity)
	}
	if c.ThreadPoolSize <= 0 {
		return fmt.Errorf("config: thread_pool_size must be positive, got %d", c.ThreadPoolSize)
	}
	if c.RecorderQueueDepth <= 0 {
		return fmt.Errorf("config: recorder_queue_depth must be positive, got %d", c.RecorderQueueDepth)
	}
	if c.LogLevel < 0 || c.LogLevel > 4 {
		return fmt.Errorf("config: log_level must be in [0,4], got %d", c.LogLevel)
	}
	return nil
}
