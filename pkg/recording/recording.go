/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package recording implements the recording engine: a detached task
// that rolls a sequence of container files while RECORD is active,
// draining every CPU's raw buffer once a second until stopped.
package recording

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/container"
	"github.com/hiviewdfx/hitrace-dump/pkg/filepool"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

// DrainInterval is how often the recording task polls each CPU's raw
// buffer.
const DrainInterval = time.Second

// Engine owns the recording task's lifecycle; its per-session state is
// reset on every record_on/record_off cycle.
type Engine struct {
	sys          sysfs.Sysfs
	pool         *filepool.Pool
	fileCapBytes int64
	poolCountCap int
	poolSizeCap  int64

	flag int32 // g_recordFlag equivalent
	end  int32 // g_recordEnd equivalent

	// singleFile produces exactly one uncapped file for the whole session,
	// the root-variant behavior selected when the configured file size is 0.
	singleFile bool

	drainInterval time.Duration
	done          chan struct{}

	sessionID string // correlates log lines across one record_on/record_off cycle
}

// New returns an Engine bound to pool, with the given per-file size cap
// and pool retention limits.
func New(sys sysfs.Sysfs, pool *filepool.Pool, fileCapBytes int64, poolCountCap int, poolSizeCap int64) *Engine {
	return &Engine{
		sys:           sys,
		pool:          pool,
		fileCapBytes:  fileCapBytes,
		poolCountCap:  poolCountCap,
		poolSizeCap:   poolSizeCap,
		end:           1, // no task has run yet, so "joined" holds vacuously
		drainInterval: DrainInterval,
	}
}

// WithDrainInterval overrides the per-CPU poll interval; production
// callers never need this, but tests use it to avoid the real 1s cadence.
func (e *Engine) WithDrainInterval(d time.Duration) *Engine {
	e.drainInterval = d
	return e
}

// SetSessionFileCap overrides the per-file size cap for the next session;
// singleFile selects the root-variant "one unbounded file" behavior. Only
// legal between sessions (Joined must hold), which the coordinator's lock
// already guarantees.
func (e *Engine) SetSessionFileCap(capBytes int64, singleFile bool) {
	e.fileCapBytes = capBytes
	e.singleFile = singleFile
}

// Joined reports whether the previous recording task has fully exited,
// the precondition record_on checks before starting a new one.
func (e *Engine) Joined() bool {
	return atomic.LoadInt32(&e.end) != 0
}

// Start begins the recording task against the given CPU raw node names
// (sysfs.Sysfs.CPUNodes order is CPU index order). It requires Joined()
// to hold; callers enforce the mode guard.
func (e *Engine) Start(cpuNodes []string) error {
	if !e.Joined() {
		return errors.New("recording: previous task has not joined")
	}
	if err := e.pool.Refresh(); err != nil {
		return err
	}
	if _, err := e.pool.AgeByCount(e.poolCountCap); err != nil {
		return err
	}
	if _, err := e.pool.AgeByTotalSize(e.poolSizeCap); err != nil {
		return err
	}

	e.sessionID = xid.New().String()
	logging.WithField("session", e.sessionID).Info("recording: session started")

	atomic.StoreInt32(&e.flag, 1)
	atomic.StoreInt32(&e.end, 0)
	e.done = make(chan struct{})

	go e.run(cpuNodes)
	return nil
}

// Stop clears the record flag and busy-waits on the end sentinel with
// 100 ms ticks, returning the files produced this
// session.
func (e *Engine) Stop() []trace.FileInfo {
	atomic.StoreInt32(&e.flag, 0)
	for !e.Joined() {
		time.Sleep(100 * time.Millisecond)
	}

	sessionFiles := []trace.FileInfo{}
	for _, fi := range e.pool.Entries() {
		if fi.NewSession {
			sessionFiles = append(sessionFiles, fi)
		}
	}
	logging.WithField("session", e.sessionID).Infof("recording: session stopped, %d files", len(sessionFiles))
	return sessionFiles
}

func (e *Engine) running() bool {
	return atomic.LoadInt32(&e.flag) != 0
}

func (e *Engine) run(cpuNodes []string) {
	defer func() {
		atomic.StoreInt32(&e.end, 1)
		close(e.done)
	}()

	if e.singleFile {
		// Root variant: one uncapped file spanning the whole session.
		if err := e.recordOneFile(cpuNodes); err != nil {
			logging.L().WithError(err).Warn("recording: unbounded file failed")
		}
		for e.running() {
			time.Sleep(e.drainInterval)
		}
		return
	}

	for e.running() {
		if err := e.recordOneFile(cpuNodes); err != nil {
			logging.L().WithError(err).Warn("recording: file iteration failed, retrying")
			time.Sleep(e.drainInterval)
		}
	}
}

func (e *Engine) recordOneFile(cpuNodes []string) error {
	startMs := time.Now().UnixMilli()
	// A placeholder end time; the file is renamed once the iteration
	// knows when it actually finished.
	path := filepath.Join(e.pool.Dir(), trace.FileInfo{StartMs: startMs, EndMs: startMs}.FileName())

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

	var minTS, maxTS uint64
	var anyOpened bool
	for cpu, node := range cpuNodes {
		src, err := e.sys.OpenRaw(node)
		if err != nil {
			logging.L().WithError(err).Debugf("recording: open raw node %s failed", node)
			continue
		}
		anyOpened = true

		result, err := w.WriteCPURawSectionContinuous(cpu, src, func() bool {
			return e.running() && !w.WouldExceedCap(0)
		}, e.drainInterval)
		src.Close()
		if err != nil {
			return err
		}
		if result.MinTimestamp != 0 && (minTS == 0 || result.MinTimestamp < minTS) {
			minTS = result.MinTimestamp
		}
		if result.MaxTimestamp > maxTS {
			maxTS = result.MaxTimestamp
		}
		if w.WouldExceedCap(0) {
			break
		}
	}
	if !anyOpened {
		// No CPU node was available this iteration (e.g. tracefs
		// temporarily unreadable); avoid spinning a tight file-creation
		// loop until the next CPU becomes available.
		time.Sleep(e.drainInterval)
	}

	if err := container.WriteTrailingSections(w, e.sys, e.sys.IsHM()); err != nil {
		logging.L().WithError(err).Warn("recording: write trailing sections")
	}

	endMs := time.Now().UnixMilli()
	finalInfo := trace.FileInfo{StartMs: startMs, EndMs: endMs, NewSession: true}
	finalPath := filepath.Join(e.pool.Dir(), finalInfo.FileName())
	if finalPath != path {
		if err := renameFile(path, finalPath); err != nil {
			return err
		}
	}

	info, statErr := statSize(finalPath)
	if statErr == nil {
		finalInfo.SizeBytes = info
	}
	finalInfo.Path = finalPath
	e.pool.Add(finalInfo)
	return nil
}
