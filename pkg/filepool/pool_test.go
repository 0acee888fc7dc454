/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package filepool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644))
}

func TestRefreshPopulatesSortedByStart(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trace_2000_3000.sys", 10)
	writeFile(t, dir, "trace_1000_1500.sys", 10)
	writeFile(t, dir, "not-a-trace-file.txt", 10)

	p := New(dir, false)
	require.NoError(t, p.Refresh())

	entries := p.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1000), entries[0].StartMs)
	assert.Equal(t, int64(2000), entries[1].StartMs)
}

func TestRefreshFiltersByCacheness(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trace_1000_1500.sys", 10)
	writeFile(t, dir, "cache_trace_2000_2500.sys", 10)

	snapshotPool := New(dir, false)
	require.NoError(t, snapshotPool.Refresh())
	assert.Len(t, snapshotPool.Entries(), 1)

	cachePool := New(dir, true)
	require.NoError(t, cachePool.Refresh())
	assert.Len(t, cachePool.Entries(), 1)
}

func TestAgeByCountEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, false)
	for i := 0; i < 5; i++ {
		start := int64(i * 1000)
		fi := trace.FileInfo{StartMs: start, EndMs: start + 500}
		fi.Path = filepath.Join(dir, fi.FileName())
		writeFile(t, dir, fi.FileName(), 1)
		p.Add(fi)
	}

	removed, err := p.AgeByCount(3)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Len(t, p.Entries(), 3)

	for _, fi := range p.Entries() {
		assert.GreaterOrEqual(t, fi.StartMs, int64(2000))
	}
}

func TestAgeByTotalSizeEvictsUntilUnderCap(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, false)
	for i := 0; i < 4; i++ {
		start := int64(i * 1000)
		fi := trace.FileInfo{StartMs: start, EndMs: start + 500, SizeBytes: 100}
		writeFile(t, dir, fi.FileName(), 100)
		fi.Path = filepath.Join(dir, fi.FileName())
		p.Add(fi)
	}

	removed, err := p.AgeByTotalSize(250)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	var total int64
	for _, fi := range p.Entries() {
		total += fi.SizeBytes
	}
	assert.LessOrEqual(t, total, int64(250))
}

func TestAgeByDurationEvictsOldEntries(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, true)
	now := time.Now()

	old := trace.FileInfo{StartMs: now.Add(-time.Hour).UnixMilli(), EndMs: now.Add(-time.Hour + time.Second).UnixMilli(), IsCache: true}
	recent := trace.FileInfo{StartMs: now.Add(-time.Minute).UnixMilli(), EndMs: now.Add(-time.Minute + time.Second).UnixMilli(), IsCache: true}
	writeFile(t, dir, old.FileName(), 1)
	writeFile(t, dir, recent.FileName(), 1)
	old.Path = filepath.Join(dir, old.FileName())
	recent.Path = filepath.Join(dir, recent.FileName())
	p.Add(old)
	p.Add(recent)

	removed, err := p.AgeByDuration(30*time.Minute, now)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, old.Path, removed[0])
	assert.Len(t, p.Entries(), 1)
}

func TestFindOverlappingAppliesToleranceAndGuard(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, false)

	inWindow := trace.FileInfo{StartMs: 1000, EndMs: 2000}
	touchingTolerance := trace.FileInfo{StartMs: 2050, EndMs: 2500} // 50ms past window end, within 100ms tolerance
	outside := trace.FileInfo{StartMs: 5000, EndMs: 6000}
	corrupt := trace.FileInfo{StartMs: 1000, EndMs: 1000 + trace.MaxSpanMillis + 1}

	for _, fi := range []trace.FileInfo{inWindow, touchingTolerance, outside, corrupt} {
		writeFile(t, dir, fi.FileName(), 1)
		fi.Path = filepath.Join(dir, fi.FileName())
		p.Add(fi)
	}

	matches, covered := p.FindOverlapping(1000, 2000)
	assert.Len(t, matches, 2)
	assert.Equal(t, int64(1000), covered)
}

func TestMigrateToSnapshotRenamesAndMoves(t *testing.T) {
	cacheDir := t.TempDir()
	snapshotDir := t.TempDir()

	cachePool := New(cacheDir, true)
	snapshotPool := New(snapshotDir, false)

	fi := trace.FileInfo{StartMs: 1000, EndMs: 2000, IsCache: true}
	writeFile(t, cacheDir, fi.FileName(), 42)
	fi.Path = filepath.Join(cacheDir, fi.FileName())
	cachePool.Add(fi)

	migrated, err := cachePool.MigrateToSnapshot(fi, snapshotPool)
	require.NoError(t, err)
	assert.False(t, migrated.IsCache)
	assert.Equal(t, filepath.Join(snapshotDir, "trace_1000_2000.sys"), migrated.Path)

	_, statErr := os.Stat(migrated.Path)
	assert.NoError(t, statErr)
	assert.Empty(t, cachePool.Entries())
	assert.Len(t, snapshotPool.Entries(), 1)
}

func TestMigrateToSnapshotRejectsNonCacheFile(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, false)
	dst := New(dir, false)
	_, err := p.MigrateToSnapshot(trace.FileInfo{StartMs: 1, EndMs: 2, IsCache: false}, dst)
	assert.Error(t, err)
}
