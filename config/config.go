/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package config reads the product-config TOML surface the dump engine
// consumes: default buffer sizes, file-size budgets and ageing-policy
// toggles, loaded once and then filled up with compiled-in defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Config is the product-config reader's output. It is immutable after
// load and is consulted by the file pools (caps/ageing), the engines
// (file-size budgets) and the coordinator (root-variant ageing toggle).
type Config struct {
	RootDir string `toml:"-"`
	// OutputDir is the directory the file pools scan and write in.
	OutputDir string `toml:"output_dir"`

	BufferSizeKB int `toml:"buffer_size_kb"`

	SnapshotFileCapKB  string `toml:"snapshot_file_cap"`
	RecordingFileCapKB string `toml:"recording_file_cap"`
	CacheFileCapKB     string `toml:"cache_file_cap"`

	SnapshotPoolCount int    `toml:"snapshot_pool_count"`
	CacheTotalSizeCap string `toml:"cache_total_size_cap"`

	RecordingPoolCount   int    `toml:"recording_pool_count"`
	RecordingPoolSizeCap string `toml:"recording_pool_size_cap"`

	MetricsAddress string `toml:"metrics_address"`

	CacheSliceDuration time.Duration `toml:"cache_slice_duration"`
	CacheRetention     time.Duration `toml:"cache_retention"`

	// AgeingDisabled is the root-variant switch: some product builds
	// disable size/count ageing altogether.
	AgeingDisabled bool `toml:"ageing_disabled"`

	MinFreeSpaceMB int `toml:"min_free_space_mb"`

	LogLevel    string `toml:"log_level"`
	LogDir      string `toml:"log_dir"`
	LogToStdout bool   `toml:"log_to_stdout"`

	RotateLogMaxSize    int  `toml:"log_rotate_max_size"`
	RotateLogMaxBackups int  `toml:"log_rotate_max_backups"`
	RotateLogMaxAge     int  `toml:"log_rotate_max_age"`
	RotateLogLocalTime  bool `toml:"log_rotate_local_time"`
	RotateLogCompress   bool `toml:"log_rotate_compress"`

	// Resolved KB values, derived from the *FileCapKB/CacheTotalSizeCap
	// human-readable strings by FillupWithDefaults.
	snapshotFileCapKB      int64
	recordingFileCapKB     int64
	cacheFileCapKB         int64
	cacheTotalSizeCapKB    int64
	recordingPoolSizeCapKB int64
}

// LoadConfig loads a TOML product-config file. A missing file is not an
// error: callers get an all-defaults Config after FillupWithDefaults,
// mirroring the daemon's tolerant config loading.
func LoadConfig(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	tree, err := toml.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load product config file %q", path)
	}
	if err := tree.Unmarshal(cfg); err != nil {
		return errors.Wrapf(err, "unmarshal product config file %q", path)
	}
	return nil
}

// FillupWithDefaults fills every unset field with the engine's
// compiled-in defaults.
func (c *Config) FillupWithDefaults() error {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.RootDir, DefaultLogDirName)
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.BufferSizeKB == 0 {
		c.BufferSizeKB = DefaultBufferSizeKB
	}
	if c.SnapshotPoolCount == 0 {
		c.SnapshotPoolCount = DefaultSnapshotPoolCount
	}
	if c.RecordingPoolCount == 0 {
		c.RecordingPoolCount = DefaultRecordingPoolCount
	}
	if c.CacheSliceDuration == 0 {
		c.CacheSliceDuration = DefaultCacheSliceDuration
	}
	if c.CacheRetention == 0 {
		c.CacheRetention = DefaultCacheRetention
	}
	if c.MinFreeSpaceMB == 0 {
		c.MinFreeSpaceMB = DefaultMinFreeSpaceMB
	}

	var err error
	if c.snapshotFileCapKB, err = sizeOrDefault(c.SnapshotFileCapKB, DefaultSnapshotFileCapKB); err != nil {
		return errors.Wrap(err, "snapshot_file_cap")
	}
	if c.recordingFileCapKB, err = sizeOrDefault(c.RecordingFileCapKB, DefaultRecordingFileCapKB); err != nil {
		return errors.Wrap(err, "recording_file_cap")
	}
	if c.cacheFileCapKB, err = sizeOrDefault(c.CacheFileCapKB, DefaultCacheFileCapKB); err != nil {
		return errors.Wrap(err, "cache_file_cap")
	}
	if c.cacheTotalSizeCapKB, err = sizeOrDefault(c.CacheTotalSizeCap, DefaultCacheTotalSizeCapKB); err != nil {
		return errors.Wrap(err, "cache_total_size_cap")
	}
	if c.recordingPoolSizeCapKB, err = sizeOrDefault(c.RecordingPoolSizeCap, DefaultRecordingPoolSizeCapKB); err != nil {
		return errors.Wrap(err, "recording_pool_size_cap")
	}

	return nil
}

// sizeOrDefault parses a human-readable size like "100MB" via
// github.com/docker/go-units, returning bytes/1024 since the sysfs knobs
// are KB-denominated. An empty string keeps defaultKB.
func sizeOrDefault(raw string, defaultKB int64) (int64, error) {
	if raw == "" {
		return defaultKB, nil
	}
	bytes, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, err
	}
	return bytes / 1024, nil
}

// The accessors below expose the resolved KB values; callers never read
// the unexported fields directly.
func (c *Config) SnapshotFileCapKBValue() int64      { return c.snapshotFileCapKB }
func (c *Config) RecordingFileCapKBValue() int64     { return c.recordingFileCapKB }
func (c *Config) CacheFileCapKBValue() int64         { return c.cacheFileCapKB }
func (c *Config) CacheTotalSizeCapKBValue() int64    { return c.cacheTotalSizeCapKB }
func (c *Config) RecordingPoolSizeCapKBValue() int64 { return c.recordingPoolSizeCapKB }
