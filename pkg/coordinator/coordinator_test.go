/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
	"github.com/hiviewdfx/hitrace-dump/pkg/snapshot"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
	"github.com/hiviewdfx/hitrace-dump/pkg/tagregistry"
	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

type noopWorker struct{}

func (noopWorker) Launch(ctx context.Context, req snapshot.WorkerRequest) (<-chan snapshot.WorkerOutcome, error) {
	ch := make(chan snapshot.WorkerOutcome, 1)
	ch <- snapshot.WorkerOutcome{Result: snapshot.WorkerResult{DumpStatus: errdefs.OutOfTime}}
	return ch, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *sysfs.Fake) {
	t.Helper()
	fake := sysfs.NewFake(2)
	opts := Options{
		RecordingFileCapBytes: 1 << 20,
		CacheFileCapBytes:     1 << 20,
		SnapshotFileCapBytes:  1 << 20,
		RecordingPoolCount:    10,
		RecordingPoolSizeCap:  1 << 30,
		SnapshotPoolCount:     10,
		CacheSliceDuration:    time.Minute,
		CacheTotalSizeCap:     1 << 30,
		MinFreeSpaceMB:        0,
		BootEpochWall:         time.Unix(0, 0),
	}
	c := New(fake, tagregistry.NewDefault(), t.TempDir(), t.TempDir(), t.TempDir(), noopWorker{}, opts)
	return c, fake
}

func TestOpenCloseRoundTrip(t *testing.T) {
	c, fake := newTestCoordinator(t)

	code := c.Open([]string{"sched"}, nil, nil)
	require.Equal(t, errdefs.Success, code)
	assert.Equal(t, trace.ModeOpen, c.Mode())
	assert.Equal(t, "1", fake.Node("tracing_on"))

	code = c.Close()
	require.Equal(t, errdefs.Success, code)
	assert.Equal(t, trace.ModeClose, c.Mode())
	assert.Equal(t, "0", fake.Node("tracing_on"))
}

func TestOpenTwiceFails(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.Equal(t, errdefs.Success, c.Open(nil, []string{tagregistry.DefaultGroup}, nil))
	assert.Equal(t, errdefs.WrongTraceMode, c.Open(nil, nil, nil))
	c.Close()
}

func TestOpenUnknownTagFails(t *testing.T) {
	c, _ := newTestCoordinator(t)
	assert.Equal(t, errdefs.TagError, c.Open([]string{"does-not-exist"}, nil, nil))
	assert.Equal(t, trace.ModeClose, c.Mode())
}

func TestRecordOnRequiresOpen(t *testing.T) {
	c, _ := newTestCoordinator(t)
	assert.Equal(t, errdefs.WrongTraceMode, c.RecordOn())

	require.Equal(t, errdefs.Success, c.Open(nil, []string{tagregistry.DefaultGroup}, nil))
	assert.Equal(t, errdefs.Success, c.RecordOn())
	assert.Equal(t, trace.ModeOpen|trace.ModeRecord, c.Mode())

	// cache_on while RECORD active must fail.
	assert.Equal(t, errdefs.WrongTraceMode, c.CacheOn())

	files, code := c.RecordOff()
	require.Equal(t, errdefs.Success, code)
	assert.NotNil(t, files)
	assert.Equal(t, trace.ModeOpen, c.Mode())

	c.Close()
}

func TestCacheOnOffTransitions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.Equal(t, errdefs.Success, c.Open(nil, []string{tagregistry.DefaultGroup}, nil))

	assert.Equal(t, errdefs.Success, c.CacheOn())
	assert.Equal(t, trace.ModeOpen|trace.ModeCache, c.Mode())

	// record_on while CACHE active must fail.
	assert.Equal(t, errdefs.WrongTraceMode, c.RecordOn())

	assert.Equal(t, errdefs.Success, c.CacheOff())
	assert.Equal(t, trace.ModeOpen, c.Mode())

	c.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	assert.Equal(t, errdefs.Success, c.Close())
	assert.Equal(t, errdefs.Success, c.Close())
}

func TestDumpWrongModeWhenClosed(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ret := c.Dump(0, time.Time{})
	assert.Equal(t, errdefs.WrongTraceMode, ret.ErrorCode)
}

func TestDumpDelegatesToSnapshotEngine(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.Equal(t, errdefs.Success, c.Open(nil, []string{tagregistry.DefaultGroup}, nil))

	ret := c.Dump(time.Second, time.Unix(0, 0))
	assert.Equal(t, errdefs.OutOfTime, ret.ErrorCode)

	c.Close()
}
