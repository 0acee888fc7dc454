/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package coordinator implements the mode coordinator: the public façade
// (open/dump/record_on/record_off/cache_on/cache_off/close) that enforces
// the trace-mode state machine and serializes every other component
// behind one lock.
package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/balancer"
	"github.com/hiviewdfx/hitrace-dump/pkg/cache"
	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/filepool"
	"github.com/hiviewdfx/hitrace-dump/pkg/recording"
	"github.com/hiviewdfx/hitrace-dump/pkg/snapshot"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/tagregistry"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// CPUFreqMarkerPrefix starts the synthetic user-trace line written to trace_marker
// when recording starts, for later offline analysis.
const CPUFreqMarkerPrefix = "cpu frequency: "

// Options configures a Coordinator's dependencies and file-size caps;
// every field mirrors a config.Config value the caller has already
// resolved via FillupWithDefaults.
type Options struct {
	RecordingFileCapBytes int64
	CacheFileCapBytes     int64
	SnapshotFileCapBytes  int64
	RecordingPoolCount    int
	RecordingPoolSizeCap  int64
	SnapshotPoolCount     int
	CacheSliceDuration    time.Duration
	CacheTotalSizeCap     int64
	CacheRetention        time.Duration
	MinFreeSpaceMB        int
	BootEpochWall         time.Time
	// AgeingDisabled is the root-variant predicate: pool
	// count/size/duration pruning is skipped entirely, and a recording
	// session with file size 0 produces one unbounded file.
	AgeingDisabled bool
}

// Coordinator owns the mode state machine and wires the control
// surface, pools, balancer and engines together behind one serializing
// lock.
type Coordinator struct {
	mu sync.Mutex

	sys      sysfs.Sysfs
	registry tagregistry.Registry
	opts     Options

	mode trace.Mode
	// openFlag mirrors mode's OPEN bit so the balancer's self-termination
	// check never has to take mu (Close holds mu while joining it).
	openFlag int32

	// params is frozen at open and cleared at close.
	params *trace.Params

	recordingPool *filepool.Pool
	cachePool     *filepool.Pool
	snapshotPool  *filepool.Pool

	recordingEngine *recording.Engine
	cacheEngine     *cache.Engine
	snapshotEngine  *snapshot.Engine
	bal             *balancer.Balancer

	cpuNodes       []string
	kernelNodes    []string
	tamperBaseline string
}

// New builds a Coordinator over the given control surface, per-pool
// output directories and options: snapshotDir, recordingDir and cacheDir
// each back one pool, and may name the same directory.
func New(sys sysfs.Sysfs, registry tagregistry.Registry, snapshotDir, recordingDir, cacheDir string, worker snapshot.Worker, opts Options) *Coordinator {
	snapshotPool := filepool.New(snapshotDir, false).WithName("snapshot")
	recordingPool := filepool.New(recordingDir, false).WithName("recording")
	cachePool := filepool.New(cacheDir, true).WithName("cache")

	if opts.AgeingDisabled {
		opts.RecordingPoolCount = 0
		opts.RecordingPoolSizeCap = 0
		opts.SnapshotPoolCount = 0
		opts.CacheTotalSizeCap = 0
		opts.CacheRetention = 0
	}

	recordingEngine := recording.New(sys, recordingPool, opts.RecordingFileCapBytes, opts.RecordingPoolCount, opts.RecordingPoolSizeCap)
	cacheEngine := cache.New(sys, cachePool, opts.CacheFileCapBytes, opts.CacheSliceDuration, opts.CacheTotalSizeCap).
		WithRetention(opts.CacheRetention)
	snapshotEngine := snapshot.New(sys, snapshotPool, cachePool, cacheEngine, worker, opts.BootEpochWall, opts.SnapshotFileCapBytes, opts.SnapshotPoolCount).
		WithMinFreeSpaceMB(opts.MinFreeSpaceMB)

	return &Coordinator{
		sys:             sys,
		registry:        registry,
		opts:            opts,
		recordingPool:   recordingPool,
		cachePool:       cachePool,
		snapshotPool:    snapshotPool,
		recordingEngine: recordingEngine,
		cacheEngine:     cacheEngine,
		snapshotEngine:  snapshotEngine,
	}
}

// Mode returns the current trace mode.
func (c *Coordinator) Mode() trace.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Open transitions CLOSE -> OPEN.
func (c *Coordinator) Open(tagNames, groupNames []string, params *trace.Params) errdefs.TraceErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != trace.ModeClose {
		return errdefs.WrongTraceMode
	}

	kernelNodes, userMask, err := c.registry.Resolve(tagNames, groupNames)
	if err != nil {
		return errdefs.TagError
	}

	cpuNodes, err := c.sys.CPUNodes()
	if err != nil {
		return errdefs.TraceNotSupported
	}

	if params == nil {
		params = trace.NewParams()
	}
	if err := sysfs.Program(c.sys, params, kernelNodes, userMask); err != nil {
		_ = sysfs.DisableAll(c.sys, kernelNodes)
		return errdefs.FileError
	}

	baseline, _ := c.sys.ReadProperty(sysfs.UserTagProperty)

	// Rebuild the in-memory indices from filesystem truth before any task
	// appends to them.
	for _, p := range []*filepool.Pool{c.snapshotPool, c.recordingPool, c.cachePool} {
		if err := p.Refresh(); err != nil {
			logging.WithField("component", "coordinator").WithError(err).Warn("scan pool on open")
		}
	}

	c.cpuNodes = cpuNodes
	c.kernelNodes = kernelNodes
	c.tamperBaseline = baseline
	c.params = params
	c.mode = trace.ModeOpen
	atomic.StoreInt32(&c.openFlag, 1)

	c.bal = balancer.New(c.sys, len(cpuNodes), c.isOpen, baseline)
	c.bal.Start()

	return errdefs.Success
}

// isOpen is the balancer's self-termination predicate. It
// reads the lock-free mirror of the OPEN bit: Close joins the balancer
// while holding mu, so the predicate must not block on it.
func (c *Coordinator) isOpen() bool {
	return atomic.LoadInt32(&c.openFlag) != 0
}

// RecordOn transitions OPEN -> OPEN|RECORD.
func (c *Coordinator) RecordOn() errdefs.TraceErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != trace.ModeOpen {
		return errdefs.WrongTraceMode
	}
	if !c.recordingEngine.Joined() {
		return errdefs.TraceIsOccupied
	}

	// The frozen params' file-size cap overrides the product-config one; a
	// zero cap on a root-variant build selects one unbounded file.
	capBytes := int64(c.params.FileSizeCapKB) * 1024
	singleFile := false
	if capBytes == 0 {
		if c.opts.AgeingDisabled {
			singleFile = true
		} else {
			capBytes = c.opts.RecordingFileCapBytes
		}
	}
	c.recordingEngine.SetSessionFileCap(capBytes, singleFile)

	if err := c.recordingEngine.Start(c.cpuNodes); err != nil {
		return errdefs.FileError
	}
	c.markSyntheticEvent(CPUFreqMarkerPrefix + "recording started")
	c.mode = trace.ModeOpen | trace.ModeRecord
	return errdefs.Success
}

// RecordOff transitions OPEN|RECORD -> OPEN.
func (c *Coordinator) RecordOff() ([]trace.FileInfo, errdefs.TraceErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != trace.ModeOpen|trace.ModeRecord {
		return nil, errdefs.WrongTraceMode
	}

	files := c.recordingEngine.Stop()
	c.mode = trace.ModeOpen
	return files, errdefs.Success
}

// CacheOn transitions OPEN -> OPEN|CACHE.
func (c *Coordinator) CacheOn() errdefs.TraceErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != trace.ModeOpen {
		return errdefs.WrongTraceMode
	}
	if !c.cacheEngine.Joined() {
		return errdefs.TraceIsOccupied
	}

	if err := c.cacheEngine.Start(c.cpuNodes); err != nil {
		return errdefs.FileError
	}
	c.mode = trace.ModeOpen | trace.ModeCache
	return errdefs.Success
}

// CacheOff transitions OPEN|CACHE -> OPEN.
func (c *Coordinator) CacheOff() errdefs.TraceErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != trace.ModeOpen|trace.ModeCache {
		return errdefs.WrongTraceMode
	}

	c.cacheEngine.Stop()
	c.mode = trace.ModeOpen
	return errdefs.Success
}

// Dump is the snapshot engine's public entry point. The coordinator
// lock is held only long enough to read the current mode; the cache-fast-path's
// interrupt/migrate dance runs under the pool's and cache engine's own
// locks so a concurrent cache slice can still observe the interrupt flag.
func (c *Coordinator) Dump(maxDuration time.Duration, endTimeWall time.Time) snapshot.TraceRetInfo {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	return c.snapshotEngine.Dump(mode, maxDuration, endTimeWall, time.Now())
}

// Close transitions any mode back to CLOSE, joining recording/cache tasks
// before winding down kernel state. Idempotent: closing
// an already-closed coordinator is a no-op success.
func (c *Coordinator) Close() errdefs.TraceErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == trace.ModeClose {
		return errdefs.Success
	}

	atomic.StoreInt32(&c.openFlag, 0)

	if c.mode.HasRecord() {
		c.recordingEngine.Stop()
	}
	if c.mode.HasCache() {
		c.cacheEngine.Stop()
	}
	if c.bal != nil {
		c.bal.Stop()
	}

	if err := sysfs.DisableAll(c.sys, c.kernelNodes); err != nil {
		logging.WithField("component", "coordinator").WithError(err).Warn("disable kernel trace state on close")
	}
	if err := c.sys.Truncate("trace"); err != nil {
		logging.WithField("component", "coordinator").WithError(err).Warn("reset ring buffer on close")
	}

	c.snapshotPool.Clear()
	c.recordingPool.Clear()
	c.cachePool.Clear()

	c.params = nil
	c.mode = trace.ModeClose
	return errdefs.Success
}

func (c *Coordinator) markSyntheticEvent(line string) {
	f, err := openTraceMarker(c.sys)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line + "\n")
}
