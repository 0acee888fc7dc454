/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package config

import "time"

const (
	// DefaultOutputDir is where the engine looks for and writes trace
	// files when TraceParams.OutputPath is unset.
	DefaultOutputDir = "/data/log/hitrace/"

	// DefaultLogLevel is the logrus level name used when none is supplied.
	DefaultLogLevel = "info"

	// DefaultBufferSizeKB is the per-CPU ring buffer size programmed at open
	// when TraceParams.BufferSizeKB is unset.
	DefaultBufferSizeKB = 12 * 1024

	// DefaultSavedCmdlinesSize is written to saved_cmdlines_size on open.
	DefaultSavedCmdlinesSize = 3072

	// DefaultSnapshotFileCapKB is the writer's per-file cap for the snapshot pool.
	DefaultSnapshotFileCapKB = 100 * 1024

	// DefaultRecordingFileCapKB is the writer's per-file cap for the recording pool.
	DefaultRecordingFileCapKB = 100 * 1024

	// DefaultCacheFileCapKB is the writer's per-file cap for the cache pool.
	DefaultCacheFileCapKB = 150 * 1024

	// TestCacheFileCapKB is the cap used by unit-test builds.
	TestCacheFileCapKB = 15 * 1024

	// DefaultSnapshotPoolCount bounds the snapshot pool by file count.
	DefaultSnapshotPoolCount = 20

	// DefaultRecordingPoolCount bounds the recording pool by file count.
	DefaultRecordingPoolCount = 20

	// DefaultRecordingPoolSizeCapKB bounds the recording pool's summed size.
	DefaultRecordingPoolSizeCapKB = 500 * 1024

	// DefaultMetricsAddress is left empty: the metrics HTTP listener only
	// starts when a product config or CLI flag supplies an address.
	DefaultMetricsAddress = ""

	// DefaultCacheTotalSizeCapKB bounds the cache pool's summed size.
	DefaultCacheTotalSizeCapKB = 800 * 1024

	// DefaultCacheSliceDuration is the cache engine's rotation period
	// absent a product-config override.
	DefaultCacheSliceDuration = time.Minute

	// DefaultCacheRetention is how long a cache file is kept before ageing
	// it out by age (cache pool only).
	DefaultCacheRetention = 30 * time.Minute

	// DefaultMinFreeSpaceMB is the free-space floor checked before a
	// snapshot worker is isolated.
	DefaultMinFreeSpaceMB = 300

	// BalancerInterval is how often the balancer re-evaluates per-CPU buffer sizes.
	BalancerInterval = 15 * time.Second

	// SnapshotForkTimeout bounds how long the parent waits on the child
	// worker before escalating to SIGUSR1.
	SnapshotForkTimeout = 10 * time.Second

	// DefaultLogDirName matches the logging package's own default so a
	// Config can derive LogDir from RootDir without importing logging.
	DefaultLogDirName = "logs"

	// RootVariantAgeingDisabled is the default for Config.AgeingDisabled
	// absent a product-config override: ageing runs by default.
	RootVariantAgeingDisabled = false
)
