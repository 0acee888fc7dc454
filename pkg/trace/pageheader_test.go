/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package trace

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageHeader(t *testing.T) {
	buf := make([]byte, PageHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], 123456789)
	binary.LittleEndian.PutUint64(buf[8:16], 512)
	buf[16] = 1

	hdr, err := ParsePageHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), hdr.Timestamp)
	assert.Equal(t, uint64(512), hdr.Size)
	assert.Equal(t, uint8(1), hdr.Overwrite)
}

func TestParsePageHeaderTooShort(t *testing.T) {
	_, err := ParsePageHeader(make([]byte, 10))
	assert.Error(t, err)
}
