/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeSpaceBytes(t *testing.T) {
	free, err := FreeSpaceBytes(t.TempDir())
	require.NoError(t, err)
	assert.True(t, free >= 0)
}

func TestHasMinFreeSpaceZeroAlwaysTrue(t *testing.T) {
	ok, err := HasMinFreeSpace(t.TempDir(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasMinFreeSpaceUnreasonablyLarge(t *testing.T) {
	ok, err := HasMinFreeSpace(t.TempDir(), 1<<40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetTotalMemoryBytes(t *testing.T) {
	total, err := GetTotalMemoryBytes()
	require.NoError(t, err)
	assert.True(t, total > 0)
}
