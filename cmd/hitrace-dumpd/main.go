/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/hiviewdfx/hitrace-dump/config"
	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/coordinator"
	"github.com/hiviewdfx/hitrace-dump/pkg/metrics"
	"github.com/hiviewdfx/hitrace-dump/pkg/snapshot"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/tagregistry"
)

// bootEpochWall approximates the kernel's CLOCK_BOOTTIME epoch as the
// current wall time minus /proc/uptime. The snapshot engine only
// needs one fixed wall/boot pairing for its whole lifetime.
func bootEpochWall() time.Time {
	raw, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return time.Now()
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return time.Now()
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return time.Now()
	}
	return time.Now().Add(-time.Duration(seconds * float64(time.Second)))
}

func main() {
	args := &rootArgs{}
	app := &cli.App{
		Name:  "hitrace-dumpd",
		Usage: "kernel ftrace snapshot/recording/cache daemon",
		Flags: buildRootFlags(args),
		Commands: []*cli.Command{
			snapshotWorkerCommand(),
		},
		Action: func(c *cli.Context) error {
			return runDaemon(args)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.L().WithError(err).Fatal("hitrace-dumpd exited with error")
	}
}

func runDaemon(args *rootArgs) error {
	var cfg config.Config
	cfg.RootDir = args.RootDir
	if err := config.LoadConfig(args.ConfigPath, &cfg); err != nil {
		return errors.Wrap(err, "load product config")
	}
	if args.LogLevel != "" {
		cfg.LogLevel = args.LogLevel
	}
	if args.LogDir != "" {
		cfg.LogDir = args.LogDir
	}
	if args.LogToStdout {
		cfg.LogToStdout = true
	}
	if args.MetricsAddress != "" {
		cfg.MetricsAddress = args.MetricsAddress
	}
	if err := cfg.FillupWithDefaults(); err != nil {
		return errors.Wrap(err, "fill up default configuration")
	}

	rotateArgs := &logging.RotateLogArgs{
		RotateLogMaxSize:    cfg.RotateLogMaxSize,
		RotateLogMaxBackups: cfg.RotateLogMaxBackups,
		RotateLogMaxAge:     cfg.RotateLogMaxAge,
		RotateLogLocalTime:  cfg.RotateLogLocalTime,
		RotateLogCompress:   cfg.RotateLogCompress,
	}
	if err := logging.SetUp(cfg.LogLevel, cfg.LogToStdout, cfg.LogDir, rotateArgs); err != nil {
		return errors.Wrap(err, "set up logger")
	}

	logging.L().Infof("starting hitrace-dumpd, pid %d", os.Getpid())

	sys, err := sysfs.Discover()
	if err != nil {
		return errors.Wrap(err, "discover tracing pseudo-filesystem")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return errors.Wrapf(err, "create output dir %s", cfg.OutputDir)
	}

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolve own executable path")
	}
	worker := &snapshot.RealWorker{SelfPath: self}

	opts := coordinator.Options{
		RecordingFileCapBytes: cfg.RecordingFileCapKBValue() * 1024,
		CacheFileCapBytes:     cfg.CacheFileCapKBValue() * 1024,
		SnapshotFileCapBytes:  cfg.SnapshotFileCapKBValue() * 1024,
		RecordingPoolCount:    cfg.RecordingPoolCount,
		RecordingPoolSizeCap:  cfg.RecordingPoolSizeCapKBValue() * 1024,
		SnapshotPoolCount:     cfg.SnapshotPoolCount,
		CacheSliceDuration:    cfg.CacheSliceDuration,
		CacheTotalSizeCap:     cfg.CacheTotalSizeCapKBValue() * 1024,
		CacheRetention:        cfg.CacheRetention,
		MinFreeSpaceMB:        cfg.MinFreeSpaceMB,
		BootEpochWall:         bootEpochWall(),
		AgeingDisabled:        cfg.AgeingDisabled,
	}

	snapshotDir := cfg.OutputDir
	recordingDir := cfg.OutputDir
	cacheDir := cfg.OutputDir

	coord := coordinator.New(sys, tagregistry.NewDefault(), snapshotDir, recordingDir, cacheDir, worker, opts)

	if cfg.MetricsAddress != "" {
		go func() {
			if err := metrics.NewHTTPListener(cfg.MetricsAddress); err != nil {
				logging.L().WithError(err).Error("metrics HTTP listener stopped")
			}
		}()
	}

	return runCommandLoop(coord)
}

func printResult(v interface{}, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Printf("%+v\n", v)
}
