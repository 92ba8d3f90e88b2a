package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/hostwatch/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}

	v.Add(errors.Wrap(c.Sampling.Validate(), "sampling"))
	v.Add(errors.Wrap(c.Partition.Validate(), "partition"))
	v.Add(errors.Wrap(c.Broadcast.Validate(), "broadcast"))
	v.Add(errors.Wrap(c.Retention.Validate(), "retention"))
	v.Add(errors.Wrap(c.Archive.Validate(), "archive"))
	v.Add(errors.Wrap(c.Analytics.Validate(), "analytics"))

	return v.Err()
}

// Validate checks the sampling configuration.
func (c *SamplingConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.Interval <= 0 {
		v.AddField("interval", "must be positive")
	}

	if c.PresenceMultiplier <= 0 {
		v.AddField("presence_multiplier", "must be positive")
	}

	return v.Err()
}

// Validate checks the partition writer configuration.
func (c *PartitionConfig) Validate() error {
	v := errors.NewValidationErrors()

	validSyncModes := map[string]bool{
		"async": true,
		"sync":  true,
		"fsync": true,
		"":      true, // Empty defaults to fsync
	}
	if !validSyncModes[c.SyncMode] {
		v.AddField("sync_mode", "must be one of: async, sync, fsync")
	}

	if c.SyncMode == "async" && c.SyncInterval <= 0 {
		v.AddField("sync_interval", "must be positive for async mode")
	}

	if c.BufferSize < 0 {
		v.AddField("buffer_size", "must be non-negative")
	}

	return v.Err()
}

// Validate checks the broadcaster configuration.
func (c *BroadcastConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.BufferSize <= 0 {
		v.AddField("buffer_size", "must be positive")
	}

	if c.MaxSubscribers < 0 {
		v.AddField("max_subscribers", "must be non-negative")
	}

	return v.Err()
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.Weeks < 1 {
		v.AddField("weeks", "must be at least 1")
	}

	if c.ArtifactDays < 1 {
		v.AddField("artifact_days", "must be at least 1")
	}

	return v.Err()
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	v := errors.NewValidationErrors()

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		v.AddField("compression", "must be one of: snappy, zstd, lz4, none")
	}

	if c.Compression == "zstd" && (c.Level < 0 || c.Level > 22) {
		v.AddField("level", "for zstd must be between 0 and 22")
	}

	return v.Err()
}

// Validate checks the analytics configuration.
func (c *AnalyticsConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.Timeout <= 0 {
		v.AddField("timeout", "must be positive")
	}

	if c.MaxRows <= 0 {
		v.AddField("max_rows", "must be positive")
	}

	return v.Err()
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.PartitionDir(),
		c.ArchiveDir(),
		c.ChartsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// PartitionDir returns the directory holding partition files.
func (c *Config) PartitionDir() string {
	return filepath.Join(c.DataDir, "partitions")
}

// ArchiveDir returns the directory holding Parquet archives.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archive")
}

// ChartsDir returns the directory holding rendered chart artifacts.
func (c *Config) ChartsDir() string {
	if c.ArtifactsDir != "" {
		return c.ArtifactsDir
	}
	return filepath.Join(c.DataDir, "artifacts")
}
