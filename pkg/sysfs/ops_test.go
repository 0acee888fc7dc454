/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package sysfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiviewdfx/hitrace-dump/pkg/trace"
)

func TestProgramWritesAllKnobs(t *testing.T) {
	f := NewFake(4, "local", "global", "boot", "mono")
	params := trace.NewParams()
	params.BufferSizeKB = 4096
	params.ClockType = "boot"
	params.Overwrite = false
	params.AppPid = 1234

	nodes := []string{"events/sched/enable", "events/irq/enable"}
	err := Program(f, params, nodes, 0x7)
	require.NoError(t, err)

	assert.Equal(t, "1", f.Node("events/sched/enable"))
	assert.Equal(t, "1", f.Node("events/irq/enable"))
	assert.Equal(t, "nop", f.Node(currentTracerNode))
	assert.Equal(t, "4096", f.Node(bufferSizeKBNode))
	assert.Equal(t, "0", f.Node(overwriteNode))
	assert.Equal(t, "3072", f.Node(savedCmdlinesNode))
	assert.Equal(t, "1", f.Node(recordTgidNode))
	assert.Equal(t, "1", f.Node(recordCmdNode))
	assert.Equal(t, "1", f.Node(tracingOnNode))
	assert.Equal(t, "boot", f.Node(traceClockNode))

	prop, err := f.ReadProperty(UserTagProperty)
	require.NoError(t, err)
	assert.Equal(t, "7", prop)

	pid, err := f.ReadProperty(AppPidProperty)
	require.NoError(t, err)
	assert.Equal(t, "1234", pid)
}

func TestProgramDefaultsBufferSize(t *testing.T) {
	f := NewFake(2)
	params := trace.NewParams()
	require.NoError(t, Program(f, params, nil, 0))
	assert.Equal(t, "12288", f.Node(bufferSizeKBNode))
}

func TestDisableAllClearsNodes(t *testing.T) {
	f := NewFake(2)
	nodes := []string{"events/sched/enable", "events/irq/enable"}
	require.NoError(t, Program(f, trace.NewParams(), nodes, 0x3))

	require.NoError(t, DisableAll(f, nodes))

	assert.Equal(t, "0", f.Node("events/sched/enable"))
	assert.Equal(t, "0", f.Node("events/irq/enable"))
	assert.Equal(t, "1", f.Node(bufferSizeKBNode))
	assert.Equal(t, "0", f.Node(tracingOnNode))

	prop, err := f.ReadProperty(UserTagProperty)
	require.NoError(t, err)
	assert.Equal(t, "0", prop)
}

func TestSetClockFallsBackToBootOnUnknown(t *testing.T) {
	f := NewFake(1, "local", "global", "boot")
	require.NoError(t, SetClock(f, "nonexistent"))
	assert.Equal(t, "boot", f.Node(traceClockNode))
}

func TestSetClockNoopWhenAlreadyCurrent(t *testing.T) {
	f := NewFake(1, "boot", "local")
	f.SetClock("boot")
	require.NoError(t, SetClock(f, "boot"))
	assert.Empty(t, f.Node(traceClockNode))
}

func TestSetClockSwitchesWhenAvailable(t *testing.T) {
	f := NewFake(1, "local", "global", "boot")
	require.NoError(t, SetClock(f, "global"))
	assert.Equal(t, "global", f.Node(traceClockNode))
}
