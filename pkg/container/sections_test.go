/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
)

// parseSections walks data past the file header, returning each section's
// content header in order and asserting the lengths tile the file exactly.
func parseSections(t *testing.T, data []byte) []ContentHeader {
	t.Helper()
	require.GreaterOrEqual(t, len(data), HeaderSize)

	var headers []ContentHeader
	off := HeaderSize
	for off < len(data) {
		require.LessOrEqual(t, off+ContentHeaderSize, len(data))
		ch := DecodeContentHeader(data[off : off+ContentHeaderSize])
		off += ContentHeaderSize + int(ch.Length)
		headers = append(headers, ch)
	}
	require.Equal(t, len(data), off)
	return headers
}

func TestWriteFixedSectionsProduceValidContainer(t *testing.T) {
	fake := sysfs.NewFake(1)
	fake.SetEventFormat("events/sched/sched_switch/format", "name: sched_switch\nID: 316\n")
	require.NoError(t, fake.WriteNode("saved_cmdlines", "1 init\n2 kthreadd\n"))
	require.NoError(t, fake.WriteNode("saved_tgids", "1 1\n"))
	require.NoError(t, fake.WriteNode("events/header_page", "field: u64 timestamp;\n"))
	require.NoError(t, fake.WriteNode("printk_formats", "0xdeadbeef : \"%s\"\n"))

	path := filepath.Join(t.TempDir(), "trace.sys")
	w, err := NewWriter(path, WriterOptions{CPUCount: 1})
	require.NoError(t, err)
	require.NoError(t, WriteLeadingSections(w, fake, ""))
	require.NoError(t, WriteTrailingSections(w, fake, false))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	headers := parseSections(t, data)
	var types []ContentType
	for _, h := range headers {
		types = append(types, h.Type)
	}
	assert.Equal(t, []ContentType{
		ContentBaseInfo,
		ContentEventsFormat,
		ContentCmdlines,
		ContentTgids,
		ContentHeaderPage,
		ContentPrintkFormats,
		ContentKallsyms,
	}, types)
}

func TestWriteTrailingSectionsSkipsPerCPUDescriptorsOnHM(t *testing.T) {
	fake := sysfs.NewFake(1)
	fake.SetHM(true)

	path := filepath.Join(t.TempDir(), "trace.sys")
	w, err := NewWriter(path, WriterOptions{FileType: FileTypeHM, CPUCount: 1})
	require.NoError(t, err)
	require.NoError(t, WriteTrailingSections(w, fake, true))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, h := range parseSections(t, data) {
		assert.NotEqual(t, ContentHeaderPage, h.Type)
		assert.NotEqual(t, ContentPrintkFormats, h.Type)
	}
}

func TestEventsFormatMemoization(t *testing.T) {
	fake := sysfs.NewFake(1)
	fake.SetEventFormat("events/sched/sched_switch/format", "name: sched_switch\n")

	memoPath := filepath.Join(t.TempDir(), EventsFormatMemoName)

	first := eventsFormatPayload(fake, memoPath)
	require.NotEmpty(t, first)

	memo, err := os.ReadFile(memoPath)
	require.NoError(t, err)
	assert.Equal(t, first, memo)

	// A second assembly must come from the memo, not the (now changed)
	// events tree.
	fake.SetEventFormat("events/irq/irq_handler_entry/format", "name: irq_handler_entry\n")
	second := eventsFormatPayload(fake, memoPath)
	assert.Equal(t, first, second)
}

func TestEventsFormatEmptyWithoutFormatNodes(t *testing.T) {
	fake := sysfs.NewFake(1)
	payload := eventsFormatPayload(fake, "")
	assert.Empty(t, payload)
}
