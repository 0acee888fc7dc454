/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInfoValidate(t *testing.T) {
	ok := FileInfo{StartMs: 100, EndMs: 200}
	assert.NoError(t, ok.Validate())

	backwards := FileInfo{StartMs: 200, EndMs: 100}
	assert.Error(t, backwards.Validate())

	tooLong := FileInfo{StartMs: 0, EndMs: MaxSpanMillis}
	assert.Error(t, tooLong.Validate())
}

func TestFileNameRoundTrip(t *testing.T) {
	f := FileInfo{StartMs: 1000, EndMs: 2000}
	name := f.FileName()
	assert.Equal(t, "trace_1000_2000.sys", name)

	isCache, start, end, err := ParseFileName(name)
	require.NoError(t, err)
	assert.False(t, isCache)
	assert.Equal(t, int64(1000), start)
	assert.Equal(t, int64(2000), end)
}

func TestFileNameCachePrefix(t *testing.T) {
	f := FileInfo{StartMs: 1000, EndMs: 2000, IsCache: true}
	name := f.FileName()
	assert.Equal(t, "cache_trace_1000_2000.sys", name)

	isCache, _, _, err := ParseFileName(name)
	require.NoError(t, err)
	assert.True(t, isCache)
}

func TestParseFileNameRejectsGarbage(t *testing.T) {
	_, _, _, err := ParseFileName("not-a-trace-file.txt")
	assert.Error(t, err)
}

func TestFileInfoFromPath(t *testing.T) {
	fi, err := FileInfoFromPath("/data/log/hitrace/trace_10_20.sys", 4096)
	require.NoError(t, err)
	assert.Equal(t, int64(10), fi.StartMs)
	assert.Equal(t, int64(20), fi.EndMs)
	assert.Equal(t, int64(4096), fi.SizeBytes)
}
