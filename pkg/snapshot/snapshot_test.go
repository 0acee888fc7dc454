/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/filepool"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

type fakeWorker struct {
	outcome   WorkerOutcome
	launchErr error
	writeFile string // if set, Launch creates this path (simulating the child's output file)
}

func (w *fakeWorker) Launch(ctx context.Context, req WorkerRequest) (<-chan WorkerOutcome, error) {
	if w.launchErr != nil {
		return nil, w.launchErr
	}
	if w.writeFile != "" {
		_ = os.WriteFile(req.OutputPath, []byte("snapshot-payload"), 0644)
	}
	ch := make(chan WorkerOutcome, 1)
	ch <- w.outcome
	return ch, nil
}

func newTestEngine(t *testing.T, worker Worker) (*Engine, *filepool.Pool, *filepool.Pool) {
	t.Helper()
	snapDir := t.TempDir()
	cacheDir := t.TempDir()
	snapPool := filepool.New(snapDir, false)
	cachePool := filepool.New(cacheDir, true)
	fake := sysfs.NewFake(1)

	e := New(fake, snapPool, cachePool, nil, worker, time.Unix(1000, 0), 1<<20, 10).
		WithMinFreeSpaceMB(0)
	return e, snapPool, cachePool
}

func TestDumpInvalidMaxDuration(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeWorker{})
	ret := e.Dump(trace.ModeOpen, -1, time.Time{}, time.Unix(2000, 0))
	assert.Equal(t, errdefs.InvalidMaxDuration, ret.ErrorCode)
	assert.Empty(t, ret.Files)
}

func TestDumpWrongModeWhenRecordActive(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeWorker{})
	ret := e.Dump(trace.ModeOpen|trace.ModeRecord, 0, time.Time{}, time.Unix(2000, 0))
	assert.Equal(t, errdefs.WrongTraceMode, ret.ErrorCode)
}

func TestDumpWrongModeWhenClosed(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeWorker{})
	ret := e.Dump(trace.ModeClose, 0, time.Time{}, time.Unix(2000, 0))
	assert.Equal(t, errdefs.WrongTraceMode, ret.ErrorCode)
}

func TestDumpOutOfTimeBeforeBootEpoch(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeWorker{})
	ret := e.Dump(trace.ModeOpen, time.Second, time.Unix(500, 0), time.Unix(2000, 0))
	assert.Equal(t, errdefs.OutOfTime, ret.ErrorCode)
}

func TestDumpCacheFastPathMigratesOverlappingFile(t *testing.T) {
	e, snapPool, cachePool := newTestEngine(t, &fakeWorker{})

	// bootEpochWall = Unix(1000,0) -> 1_000_000ms. endTimeWall = Unix(1010,0);
	// maxDuration = 5s -> window [1_006_000, 1_011_000]ms after +1s tolerance.
	now := time.Unix(1010, 0)
	cacheFile := trace.FileInfo{StartMs: 1007000, EndMs: 1009000, IsCache: true}
	cachePath := filepath.Join(cachePool.Dir(), cacheFile.FileName())
	require.NoError(t, os.WriteFile(cachePath, []byte("cache-bytes"), 0644))
	cacheFile.Path = cachePath
	cachePool.Add(cacheFile)

	ret := e.Dump(trace.ModeOpen|trace.ModeCache, 5*time.Second, now, now)
	require.Equal(t, errdefs.Success, ret.ErrorCode)
	require.Len(t, ret.Files, 1)
	assert.False(t, ret.Files[0].IsCache)
	assert.True(t, ret.CoverageRatioPermille > 0)

	// the file should now live under the snapshot pool's directory.
	assert.NoError(t, snapPool.Refresh())
	assert.Len(t, snapPool.Entries(), 1)
}

func TestDumpCacheFastPathOutOfTimeWithNoOverlap(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeWorker{})
	now := time.Unix(1010, 0)
	ret := e.Dump(trace.ModeOpen|trace.ModeCache, 5*time.Second, now, now)
	assert.Equal(t, errdefs.OutOfTime, ret.ErrorCode)
}

func TestDumpNormalPathInvokesWorkerAndRecordsFile(t *testing.T) {
	worker := &fakeWorker{
		writeFile: "yes",
		outcome:   WorkerOutcome{Result: WorkerResult{DumpStatus: errdefs.Success, FirstPageTs: 1, LastPageTs: 2}},
	}
	e, snapPool, _ := newTestEngine(t, worker)

	now := time.Unix(1010, 0)
	ret := e.Dump(trace.ModeOpen, 5*time.Second, now, now)

	require.Equal(t, errdefs.Success, ret.ErrorCode)
	require.Len(t, ret.Files, 1)
	assert.NoError(t, snapPool.Refresh())
	assert.Len(t, snapPool.Entries(), 1)
}

func TestDumpNormalPathRenamesToObservedPageRange(t *testing.T) {
	// bootEpochWall = Unix(1000,0). Observed page timestamps 7s and 9s of
	// boot time map to wall 1_007_000ms and 1_009_000ms.
	worker := &fakeWorker{
		writeFile: "yes",
		outcome: WorkerOutcome{Result: WorkerResult{
			DumpStatus:  errdefs.Success,
			FirstPageTs: 7_000_000_000,
			LastPageTs:  9_000_000_000,
		}},
	}
	e, snapPool, _ := newTestEngine(t, worker)

	now := time.Unix(1010, 0)
	ret := e.Dump(trace.ModeOpen, 5*time.Second, now, now)

	require.Equal(t, errdefs.Success, ret.ErrorCode)
	require.Len(t, ret.Files, 1)
	assert.Equal(t, int64(1007000), ret.Files[0].StartMs)
	assert.Equal(t, int64(1009000), ret.Files[0].EndMs)
	assert.FileExists(t, filepath.Join(snapPool.Dir(), "trace_1007000_1009000.sys"))
	assert.True(t, ret.CoverageDurationMs > 0)
	assert.True(t, ret.CoverageRatioPermille > 0)
}

func TestDumpNormalPathPropagatesWorkerFailure(t *testing.T) {
	worker := &fakeWorker{
		outcome: WorkerOutcome{Result: WorkerResult{DumpStatus: errdefs.OutOfTime}},
	}
	e, snapPool, _ := newTestEngine(t, worker)

	now := time.Unix(1010, 0)
	ret := e.Dump(trace.ModeOpen, 5*time.Second, now, now)

	assert.Equal(t, errdefs.OutOfTime, ret.ErrorCode)
	assert.Empty(t, ret.Files)
	assert.NoError(t, snapPool.Refresh())
	assert.Empty(t, snapPool.Entries())
}

func TestDumpNormalPathForkErrorWhenLaunchFails(t *testing.T) {
	worker := &fakeWorker{launchErr: assertErr{}}
	e, _, _ := newTestEngine(t, worker)

	now := time.Unix(1010, 0)
	ret := e.Dump(trace.ModeOpen, 5*time.Second, now, now)
	assert.Equal(t, errdefs.ForkError, ret.ErrorCode)
}

type assertErr struct{}

func (assertErr) Error() string { return "launch failed" }
