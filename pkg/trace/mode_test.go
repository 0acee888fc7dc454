/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeValid(t *testing.T) {
	assert.True(t, ModeClose.Valid())
	assert.True(t, ModeOpen.Valid())
	assert.True(t, (ModeOpen | ModeRecord).Valid())
	assert.True(t, (ModeOpen | ModeCache).Valid())

	assert.False(t, ModeRecord.Valid())
	assert.False(t, ModeCache.Valid())
	assert.False(t, (ModeRecord | ModeCache).Valid())
	assert.False(t, (ModeOpen | ModeRecord | ModeCache).Valid())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "CLOSE", ModeClose.String())
	assert.Equal(t, "OPEN", ModeOpen.String())
	assert.Equal(t, "OPEN|RECORD", (ModeOpen | ModeRecord).String())
	assert.Equal(t, "OPEN|CACHE", (ModeOpen | ModeCache).String())
}

func TestModePredicates(t *testing.T) {
	m := ModeOpen | ModeCache
	assert.True(t, m.HasOpen())
	assert.True(t, m.HasCache())
	assert.False(t, m.HasRecord())
}
