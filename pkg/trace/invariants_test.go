/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"testing"

	"gotest.tools/v3/assert"
)

// TestModeCompositionInvariant sweeps every possible bit pattern and
// checks Valid agrees with the composition rules: no bits outside
// {OPEN, RECORD, CACHE}, RECORD or CACHE implies OPEN, and RECORD and
// CACHE never coexist.
func TestModeCompositionInvariant(t *testing.T) {
	for bits := 0; bits < 256; bits++ {
		m := Mode(bits)

		legal := m&^(ModeOpen|ModeRecord|ModeCache) == 0 &&
			(m&(ModeRecord|ModeCache) == 0 || m.HasOpen()) &&
			!(m.HasRecord() && m.HasCache())

		assert.Equal(t, legal, m.Valid(), "mode bits %#x", bits)
	}
}

func TestFileInfoSpanGuard(t *testing.T) {
	ok := FileInfo{Path: "trace_1_2.sys", StartMs: 1, EndMs: 2}
	assert.NilError(t, ok.Validate())

	inverted := FileInfo{Path: "x", StartMs: 5, EndMs: 1}
	assert.Assert(t, inverted.Validate() != nil)

	tooLong := FileInfo{Path: "x", StartMs: 0, EndMs: MaxSpanMillis}
	assert.Assert(t, tooLong.Validate() != nil)
}

func TestFileNameEmbedsSameRangeAsInfo(t *testing.T) {
	fi := FileInfo{StartMs: 1700000000123, EndMs: 1700000005456}
	isCache, start, end, err := ParseFileName(fi.FileName())
	assert.NilError(t, err)
	assert.Equal(t, false, isCache)
	assert.Equal(t, fi.StartMs, start)
	assert.Equal(t, fi.EndMs, end)

	fi.IsCache = true
	isCache, _, _, err = ParseFileName(fi.FileName())
	assert.NilError(t, err)
	assert.Equal(t, true, isCache)
}
