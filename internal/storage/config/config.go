package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// ArtifactsDir holds derived artifacts (rendered charts). Defaults to
	// {DataDir}/artifacts.
	ArtifactsDir string `yaml:"artifacts_dir"`

	// Sampling defines the collector cadence the store is tuned for.
	Sampling SamplingConfig `yaml:"sampling"`

	// Partition configures the partition file writer.
	Partition PartitionConfig `yaml:"partition"`

	// Broadcast configures the live broadcaster.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Retention defines how long partitions and artifacts are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Archive configures Parquet export of sealed partitions.
	Archive ArchiveConfig `yaml:"archive"`

	// Analytics configures the SQL service over archived partitions.
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// SamplingConfig defines the expected collector cadence.
type SamplingConfig struct {
	// Interval is the nominal time between samples.
	Interval time.Duration `yaml:"interval"`

	// PresenceMultiplier scales Interval into the presence timeout used to
	// split process lifetimes: a gap larger than
	// Interval*PresenceMultiplier between two snapshots of the same pid
	// starts a new interval.
	PresenceMultiplier int `yaml:"presence_multiplier"`
}

// PresenceTimeout returns the gap threshold for process-lifetime splitting.
func (c SamplingConfig) PresenceTimeout() time.Duration {
	return time.Duration(c.PresenceMultiplier) * c.Interval
}

// PartitionConfig configures the partition file writer.
type PartitionConfig struct {
	// SyncMode controls how appends are synced to disk.
	// "async" - buffered, flushed on interval
	// "sync" - flush after each append
	// "fsync" - fsync after each append
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the flush interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// BufferSize is the size of the write buffer.
	BufferSize int `yaml:"buffer_size"`
}

// BroadcastConfig configures the live broadcaster.
type BroadcastConfig struct {
	// BufferSize is the per-subscriber event buffer capacity.
	BufferSize int `yaml:"buffer_size"`

	// MaxSubscribers caps concurrent subscriptions. 0 means unlimited.
	MaxSubscribers int `yaml:"max_subscribers"`
}

// RetentionConfig defines how long partitions and artifacts are kept.
type RetentionConfig struct {
	// Weeks is the number of historical partitions kept besides the
	// current one.
	Weeks int `yaml:"weeks"`

	// ArtifactDays is the age limit for derived artifacts.
	ArtifactDays int `yaml:"artifact_days"`
}

// ArchiveConfig configures Parquet export of sealed partitions.
type ArchiveConfig struct {
	// Compression is the Parquet compression algorithm: snappy, zstd, lz4, none.
	Compression string `yaml:"compression"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// AnalyticsConfig configures the SQL service over archived partitions.
type AnalyticsConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/hostwatch",
		Sampling: SamplingConfig{
			Interval:           time.Second,
			PresenceMultiplier: 3,
		},
		Partition: PartitionConfig{
			SyncMode:     "fsync",
			SyncInterval: time.Second,
			BufferSize:   64 * 1024, // 64KB
		},
		Broadcast: BroadcastConfig{
			BufferSize:     256,
			MaxSubscribers: 64,
		},
		Retention: RetentionConfig{
			Weeks:        4,
			ArtifactDays: 1,
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
			Level:       3,
		},
		Analytics: AnalyticsConfig{
			MemoryLimit: "1GB",
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
		},
	}
}
