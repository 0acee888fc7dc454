/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package cache implements the cache engine: a detached task that
// rotates fixed-duration "slice" container files while CACHE is active,
// prunes the pool to a total-size budget between slices, and closes its
// current slice early when interrupted by a snapshot dump.
package cache

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/container"
	"github.com/hiviewdfx/hitrace-dump/pkg/filepool"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// DefaultSliceDuration is the fallback rotation period when product
// config supplies none.
const DefaultSliceDuration = time.Minute

// DrainInterval is how often the cache task polls each CPU's raw buffer
// and its interrupt flag.
const DrainInterval = time.Second

// Engine owns the cache task's lifecycle, scoped to one cache_on/cache_off
// cycle like pkg/recording.Engine.
type Engine struct {
	sys           sysfs.Sysfs
	pool          *filepool.Pool
	fileCapBytes  int64
	sliceDuration time.Duration
	totalSizeCap  int64
	retention     time.Duration // age-out window for old slices; 0 disables
	drainInterval time.Duration

	flag      int32 // g_cacheFlag equivalent
	end       int32 // g_cacheEnd equivalent
	interrupt int32 // set by the snapshot engine to close the current slice early

	mu      sync.Mutex
	ackChan chan struct{} // closed once the interrupted slice finishes
	done    chan struct{}
}

// New returns an Engine bound to pool.
func New(sys sysfs.Sysfs, pool *filepool.Pool, fileCapBytes int64, sliceDuration time.Duration, totalSizeCap int64) *Engine {
	if sliceDuration <= 0 {
		sliceDuration = DefaultSliceDuration
	}
	return &Engine{
		sys:           sys,
		pool:          pool,
		fileCapBytes:  fileCapBytes,
		sliceDuration: sliceDuration,
		totalSizeCap:  totalSizeCap,
		drainInterval: DrainInterval,
		end:           1,
	}
}

// WithRetention sets the duration-based ageing window applied between
// slices. Zero disables it.
func (e *Engine) WithRetention(d time.Duration) *Engine {
	e.retention = d
	return e
}

// WithDrainInterval overrides the poll interval for tests.
func (e *Engine) WithDrainInterval(d time.Duration) *Engine {
	e.drainInterval = d
	return e
}

// Joined reports whether the previous cache task has fully exited.
func (e *Engine) Joined() bool {
	return atomic.LoadInt32(&e.end) != 0
}

// Start begins the cache task against the given CPU raw node names.
func (e *Engine) Start(cpuNodes []string) error {
	if !e.Joined() {
		return errors.New("cache: previous task has not joined")
	}
	if err := e.pool.Refresh(); err != nil {
		return err
	}
	if _, err := e.pool.AgeByTotalSize(e.totalSizeCap); err != nil {
		return err
	}

	atomic.StoreInt32(&e.flag, 1)
	atomic.StoreInt32(&e.end, 0)
	atomic.StoreInt32(&e.interrupt, 0)
	e.done = make(chan struct{})

	go e.run(cpuNodes)
	return nil
}

// Stop clears the cache flag and busy-waits on the end sentinel with
// 100 ms ticks; the in-flight slice finishes before the task exits.
func (e *Engine) Stop() {
	atomic.StoreInt32(&e.flag, 0)
	for !e.Joined() {
		time.Sleep(100 * time.Millisecond)
	}
}

// Interrupt asks the cache task to close its current slice immediately,
// for the snapshot engine's cache-fast-path. It returns a channel that
// closes once the interruption has been handled (or immediately, if the
// cache task isn't running).
func (e *Engine) Interrupt() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Joined() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	atomic.StoreInt32(&e.interrupt, 1)
	ch := make(chan struct{})
	e.ackChan = ch
	return ch
}

func (e *Engine) running() bool {
	return atomic.LoadInt32(&e.flag) != 0
}

func (e *Engine) interrupted() bool {
	return atomic.LoadInt32(&e.interrupt) != 0
}

func (e *Engine) clearInterruptAndAck() {
	e.mu.Lock()
	defer e.mu.Unlock()
	atomic.StoreInt32(&e.interrupt, 0)
	if e.ackChan != nil {
		close(e.ackChan)
		e.ackChan = nil
	}
}

func (e *Engine) run(cpuNodes []string) {
	defer func() {
		atomic.StoreInt32(&e.end, 1)
		close(e.done)
	}()

	for e.running() {
		if err := e.produceSlice(cpuNodes); err != nil {
			logging.L().WithError(err).Warn("cache: slice iteration failed, retrying")
			time.Sleep(e.drainInterval)
			continue
		}
		if _, err := e.pool.AgeByTotalSize(e.totalSizeCap); err != nil {
			logging.L().WithError(err).Warn("cache: pool pruning failed")
		}
		if e.retention > 0 {
			if _, err := e.pool.AgeByDuration(e.retention, time.Now()); err != nil {
				logging.L().WithError(err).Warn("cache: retention pruning failed")
			}
		}
	}
}

func (e *Engine) produceSlice(cpuNodes []string) error {
	startMs := time.Now().UnixMilli()
	deadline := time.Now().Add(e.sliceDuration)

	path := filepath.Join(e.pool.Dir(), trace.FileInfo{StartMs: startMs, EndMs: startMs, IsCache: true}.FileName())
	fileType := container.FileTypeStandard
	if e.sys.IsHM() {
		fileType = container.FileTypeHM
	}
	w, err := container.NewWriter(path, container.WriterOptions{
		FileType:     fileType,
		CPUCount:     len(cpuNodes),
		SizeCapBytes: e.fileCapBytes,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	memoPath := filepath.Join(e.pool.Dir(), container.EventsFormatMemoName)
	if err := container.WriteLeadingSections(w, e.sys, memoPath); err != nil {
		return err
	}

	sliceActive := func() bool {
		return e.running() && !e.interrupted() && time.Now().Before(deadline) && !w.WouldExceedCap(0)
	}

	var anyOpened bool
	for cpu, node := range cpuNodes {
		src, err := e.sys.OpenRaw(node)
		if err != nil {
			logging.L().WithError(err).Debugf("cache: open raw node %s failed", node)
			continue
		}
		anyOpened = true

		if _, err := w.WriteCPURawSectionContinuous(cpu, src, sliceActive, e.drainInterval); err != nil {
			src.Close()
			return err
		}
		src.Close()
		if !sliceActive() {
			break
		}
	}
	if !anyOpened {
		time.Sleep(e.drainInterval)
	}

	if err := container.WriteTrailingSections(w, e.sys, e.sys.IsHM()); err != nil {
		logging.L().WithError(err).Warn("cache: write trailing sections")
	}

	wasInterrupted := e.interrupted()

	endMs := time.Now().UnixMilli()
	finalInfo := trace.FileInfo{StartMs: startMs, EndMs: endMs, IsCache: true, NewSession: true}
	finalPath := filepath.Join(e.pool.Dir(), finalInfo.FileName())
	if finalPath != path {
		if err := renameFile(path, finalPath); err != nil {
			return err
		}
	}
	if size, err := statSize(finalPath); err == nil {
		finalInfo.SizeBytes = size
	}
	finalInfo.Path = finalPath
	e.pool.Add(finalInfo)

	if wasInterrupted {
		e.clearInterruptAndAck()
	}
	return nil
}
