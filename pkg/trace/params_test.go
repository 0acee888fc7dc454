/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsCompact(t *testing.T) {
	p, err := ParseArgs("tags:sched clockType:boot bufferSize:1024 overwrite:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sched"}, p.Tags)
	assert.Equal(t, "boot", p.ClockType)
	assert.Equal(t, 1024, p.BufferSizeKB)
	assert.True(t, p.Overwrite)
}

func TestParseArgsToleratesSpaceAfterColon(t *testing.T) {
	p, err := ParseArgs("tags: sched clockType: boot bufferSize:1024 overwrite: 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sched"}, p.Tags)
	assert.Equal(t, "boot", p.ClockType)
	assert.Equal(t, 1024, p.BufferSizeKB)
	assert.True(t, p.Overwrite)
}

func TestParseArgsMultipleTags(t *testing.T) {
	p, err := ParseArgs("tags: sched, freq, idle clockType:boot")
	require.NoError(t, err)
	assert.Equal(t, []string{"sched", "freq", "idle"}, p.Tags)
}

func TestParseArgsDefaultsClock(t *testing.T) {
	p, err := ParseArgs("tags:sched")
	require.NoError(t, err)
	assert.Equal(t, DefaultClockType, p.ClockType)
}

func TestParseArgsEmptyString(t *testing.T) {
	p, err := ParseArgs("")
	require.NoError(t, err)
	assert.Equal(t, DefaultClockType, p.ClockType)
}

func TestParseArgsUnknownKey(t *testing.T) {
	_, err := ParseArgs("bogus:1")
	assert.Error(t, err)
}

func TestParseArgsMalformedOverwrite(t *testing.T) {
	_, err := ParseArgs("tags:sched overwrite:yes")
	assert.Error(t, err)
}
