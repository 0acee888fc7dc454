/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package tagregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTagsAndGroups(t *testing.T) {
	r := NewDefault()

	nodes, mask, err := r.Resolve([]string{"binder"}, []string{DefaultGroup})
	require.NoError(t, err)
	assert.Contains(t, nodes, "events/sched/enable")
	assert.Contains(t, nodes, "events/binder/enable")
	assert.NotZero(t, mask)
}

func TestResolveUnknownTag(t *testing.T) {
	r := NewDefault()
	_, _, err := r.Resolve([]string{"does-not-exist"}, nil)
	assert.Error(t, err)
}

func TestResolveUnknownGroup(t *testing.T) {
	r := NewDefault()
	_, _, err := r.Resolve(nil, []string{"does-not-exist"})
	assert.Error(t, err)
}

func TestResolveDeduplicates(t *testing.T) {
	r := NewDefault()
	nodes, _, err := r.Resolve([]string{"sched"}, []string{DefaultGroup})
	require.NoError(t, err)

	count := 0
	for _, n := range nodes {
		if n == "events/sched/enable" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestKnownTagsSorted(t *testing.T) {
	r := NewDefault()
	tags := r.KnownTags()
	require.NotEmpty(t, tags)
	for i := 1; i < len(tags); i++ {
		assert.True(t, tags[i-1] < tags[i])
	}
}
