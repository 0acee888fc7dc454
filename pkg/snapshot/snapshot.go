/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package snapshot

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/cache"
	"github.com/hiviewdfx/hitrace-dump/pkg/container"
	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/filepool"
	"github.com/hiviewdfx/hitrace-dump/pkg/metrics"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// ClockSyncTolerance is folded into the computed end-of-window boot
// timestamp, absorbing clock skew between the two domains.
const ClockSyncTolerance = time.Second

// MinFreeSpaceMB is the free-space floor checked before isolating a
// normal-path worker.
const MinFreeSpaceMB = 300

// EpollDeadline is how long the parent waits on the worker's status pipe
// before escalating to SIGUSR1.
const EpollDeadline = 10 * time.Second

// Engine owns the snapshot dump operation. A single Engine is shared
// across dump() calls (unlike recording/cache, which are scoped per
// session), since a snapshot has no running state between calls.
type Engine struct {
	sys            sysfs.Sysfs
	snapshotPool   *filepool.Pool
	cachePool      *filepool.Pool
	cacheEngine    *cache.Engine // nil when the coordinator never enables CACHE
	worker         Worker
	bootEpochWall  time.Time
	fileCapBytes   int64
	poolCountCap   int
	minFreeSpaceMB int
}

// New returns an Engine. cacheEngine may be nil if the coordinator never
// wires CACHE mode; the cache-fast-path then degrades to a plain overlap
// query against cachePool's existing entries.
func New(sys sysfs.Sysfs, snapshotPool, cachePool *filepool.Pool, cacheEngine *cache.Engine, worker Worker, bootEpochWall time.Time, fileCapBytes int64, poolCountCap int) *Engine {
	return &Engine{
		sys:            sys,
		snapshotPool:   snapshotPool,
		cachePool:      cachePool,
		cacheEngine:    cacheEngine,
		worker:         worker,
		bootEpochWall:  bootEpochWall,
		fileCapBytes:   fileCapBytes,
		poolCountCap:   poolCountCap,
		minFreeSpaceMB: MinFreeSpaceMB,
	}
}

// WithMinFreeSpaceMB overrides the preflight free-space floor, mainly so
// tests don't depend on the real volume's headroom.
func (e *Engine) WithMinFreeSpaceMB(mb int) *Engine {
	e.minFreeSpaceMB = mb
	return e
}

// Dump captures a time-windowed snapshot ending at endTimeWall.
// now is injected so tests control "current wall time" instead of racing
// time.Now(); production callers pass time.Now().
func (e *Engine) Dump(mode trace.Mode, maxDuration time.Duration, endTimeWall time.Time, now time.Time) TraceRetInfo {
	start := now
	defer func() { metrics.DumpDuration.Observe(time.Since(start).Seconds()) }()

	ret := TraceRetInfo{Mode: mode}

	if maxDuration < 0 {
		ret.ErrorCode = errdefs.InvalidMaxDuration
		return ret
	}
	if !mode.HasOpen() || mode.HasRecord() {
		ret.ErrorCode = errdefs.WrongTraceMode
		return ret
	}

	if endTimeWall.IsZero() {
		endTimeWall = now
	}
	if endTimeWall.After(now) {
		endTimeWall = now
	}
	if endTimeWall.Before(e.bootEpochWall) {
		ret.ErrorCode = errdefs.OutOfTime
		return ret
	}

	endBootNs := uint64(endTimeWall.Sub(e.bootEpochWall).Nanoseconds()) + uint64(ClockSyncTolerance.Nanoseconds())
	var startBootNs uint64
	if maxDuration > 0 {
		span := uint64(maxDuration.Nanoseconds())
		if span < endBootNs {
			startBootNs = endBootNs - span
		}
	}

	startMs := e.bootEpochWall.Add(time.Duration(startBootNs)).UnixMilli()
	endMs := e.bootEpochWall.Add(time.Duration(endBootNs)).UnixMilli()

	if mode.HasCache() {
		return e.dumpCacheFastPath(ret, startMs, endMs)
	}
	return e.dumpNormalPath(ret, startBootNs, endBootNs, startMs, endMs)
}

func (e *Engine) dumpCacheFastPath(ret TraceRetInfo, startMs, endMs int64) TraceRetInfo {
	if e.cacheEngine != nil {
		ack := e.cacheEngine.Interrupt()
		select {
		case <-ack:
		case <-time.After(EpollDeadline):
			logging.WithField("component", "snapshot").Warn("cache interrupt ack timed out, querying pools anyway")
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := e.cachePool.Refresh(); err != nil {
			logging.WithField("component", "snapshot").WithError(err).Warn("refresh cache pool failed")
		}
		return nil
	})
	g.Go(func() error {
		if err := e.snapshotPool.Refresh(); err != nil {
			logging.WithField("component", "snapshot").WithError(err).Warn("refresh snapshot pool failed")
		}
		return nil
	})
	_ = g.Wait()

	cacheHits, cacheCovered := e.cachePool.FindOverlapping(startMs, endMs)
	existing, existingCovered := e.snapshotPool.FindOverlapping(startMs, endMs)

	if len(cacheHits) == 0 && len(existing) == 0 {
		ret.ErrorCode = errdefs.OutOfTime
		return ret
	}

	files := append([]trace.FileInfo{}, existing...)
	for _, fi := range cacheHits {
		migrated, err := e.cachePool.MigrateToSnapshot(fi, e.snapshotPool)
		if err != nil {
			logging.WithField("component", "snapshot").WithError(err).Warn("migrate cache file to snapshot pool failed")
			continue
		}
		files = append(files, migrated)
	}

	ret.Files = files
	ret.ErrorCode = errdefs.Success
	ret.CoverageDurationMs = cacheCovered + existingCovered
	ret.CoverageRatioPermille = coverageRatioPermille(ret.CoverageDurationMs, endMs-startMs)
	return ret
}

func (e *Engine) dumpNormalPath(ret TraceRetInfo, startBootNs, endBootNs uint64, startMs, endMs int64) TraceRetInfo {
	ok, err := hasMinFreeSpace(e.snapshotPool.Dir(), e.minFreeSpaceMB)
	if err != nil {
		ret.ErrorCode = errdefs.SysinfoReadFailure
		return ret
	}
	if !ok {
		ret.ErrorCode = errdefs.FileError
		return ret
	}

	if err := e.snapshotPool.Refresh(); err != nil {
		logging.WithField("component", "snapshot").WithError(err).Warn("refresh snapshot pool failed")
	}
	if _, err := e.snapshotPool.AgeByCount(e.poolCountCap); err != nil {
		logging.WithField("component", "snapshot").WithError(err).Warn("age snapshot pool failed")
	}

	outPath := filepath.Join(e.snapshotPool.Dir(), trace.FileInfo{StartMs: startMs, EndMs: endMs}.FileName())
	req := WorkerRequest{
		OutputPath:        outPath,
		WindowStartBootNs: startBootNs,
		WindowEndBootNs:   endBootNs,
		CPUNodes:          cpuNodesOf(e.sys),
		FileCapBytes:      e.fileCapBytes,
		EventsFormatMemo:  filepath.Join(e.snapshotPool.Dir(), container.EventsFormatMemoName),
	}

	ctx, cancel := context.WithTimeout(context.Background(), EpollDeadline)
	defer cancel()

	outcomeCh, err := e.worker.Launch(ctx, req)
	if err != nil {
		ret.ErrorCode = errdefs.ForkError
		return ret
	}

	outcome := <-outcomeCh
	if outcome.Err != nil {
		removeFailedSnapshot(outPath)
		ret.ErrorCode = outcome.Code
		return ret
	}
	if outcome.Result.DumpStatus != errdefs.Success {
		removeFailedSnapshot(outPath)
		ret.ErrorCode = outcome.Result.DumpStatus
		return ret
	}

	// Rename the file to embed the page-time range the writer actually
	// observed, converted from boot-ns to wall-ms; the
	// requested window stays as a fallback when no page carried a timestamp.
	finalInfo := trace.FileInfo{StartMs: startMs, EndMs: endMs}
	if first := outcome.Result.FirstPageTs; first != 0 {
		obsStart := e.bootEpochWall.Add(time.Duration(first)).UnixMilli()
		obsEnd := e.bootEpochWall.Add(time.Duration(outcome.Result.LastPageTs)).UnixMilli()
		if obsStart <= obsEnd && obsEnd-obsStart < trace.MaxSpanMillis {
			finalInfo.StartMs, finalInfo.EndMs = obsStart, obsEnd
		}
	}
	finalInfo.Path = outPath
	finalPath := filepath.Join(e.snapshotPool.Dir(), finalInfo.FileName())
	if finalPath != outPath {
		if err := renameFile(outPath, finalPath); err != nil {
			logging.WithField("component", "snapshot").WithError(err).Warn("rename snapshot to observed page-time range")
			// Keep the record consistent with the name actually on disk.
			finalInfo.StartMs, finalInfo.EndMs = startMs, endMs
		} else {
			finalInfo.Path = finalPath
		}
	}
	if size, statErr := statSize(finalInfo.Path); statErr == nil {
		finalInfo.SizeBytes = size
	}
	e.snapshotPool.Add(finalInfo)

	files := []trace.FileInfo{finalInfo}
	covered := clippedSpan(finalInfo, startMs, endMs)

	// Overlay any cache-pool coverage on top, so a snapshot returns both
	// the fresh file and any older covered cache files.
	if err := e.cachePool.Refresh(); err == nil {
		cacheHits, cacheCovered := e.cachePool.FindOverlapping(startMs, endMs)
		for _, fi := range cacheHits {
			migrated, merr := e.cachePool.MigrateToSnapshot(fi, e.snapshotPool)
			if merr != nil {
				continue
			}
			files = append(files, migrated)
		}
		covered += cacheCovered
	}

	ret.Files = files
	ret.ErrorCode = errdefs.Success
	ret.CoverageDurationMs = covered
	ret.CoverageRatioPermille = coverageRatioPermille(covered, endMs-startMs)
	return ret
}

// clippedSpan is how much of [startMs, endMs] the file's own range covers.
func clippedSpan(fi trace.FileInfo, startMs, endMs int64) int64 {
	lo := fi.StartMs
	if lo < startMs {
		lo = startMs
	}
	hi := fi.EndMs
	if hi > endMs {
		hi = endMs
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func coverageRatioPermille(coveredMs, committedMs int64) int64 {
	if committedMs <= 0 {
		return 0
	}
	ratio := coveredMs * 1000 / committedMs
	if ratio > 1000 {
		ratio = 1000
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

func cpuNodesOf(sys sysfs.Sysfs) []string {
	nodes, err := sys.CPUNodes()
	if err != nil {
		return nil
	}
	return nodes
}

func removeFailedSnapshot(path string) {
	if err := removeFile(path); err != nil {
		logging.WithField("component", "snapshot").WithError(err).Debug("remove failed snapshot file")
	}
}
