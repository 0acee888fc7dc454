/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package tagregistry resolves tag and tag-group names to the kernel
// sysfs nodes and user-tag bitmask they correspond to. The full tag
// taxonomy normally arrives from an external JSON parser; this package
// defines the contract plus a minimal built-in table, seeded with the
// default "scene_performance" group, so the coordinator is exercisable
// without it.
package tagregistry

import (
	"sort"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
)

// Tag describes one traceable event category.
type Tag struct {
	Name       string
	KernelNode string // event-enable sysfs path, relative to the tracing root; empty if user-space only
	UserBit    uint64 // bit set in the user-tag bitmask property; 0 if kernel-only
}

// Registry resolves tag names and tag-group names to the concrete kernel
// nodes and bitmask the control surface needs to program the kernel.
type Registry interface {
	// Resolve unions tagNames with the tags named by groupNames, returning
	// the kernel event-enable nodes to toggle and the OR'd user-tag bitmask.
	Resolve(tagNames, groupNames []string) (kernelNodes []string, userMask uint64, err error)
	// KnownTags lists every tag the registry recognizes, sorted by name.
	KnownTags() []string
}

type staticRegistry struct {
	tags   map[string]Tag
	groups map[string][]string
}

// DefaultGroup names the built-in default tag group that callers pass
// explicitly; Resolve adds no group on its own. It matches the constant
// `tagGroups = {"scene_performance"}` in the original hitrace_dump.cpp.
const DefaultGroup = "scene_performance"

// New builds a registry from an explicit tag and group table, as would be
// parsed by the (out-of-scope) tag-taxonomy JSON parser.
func New(tags map[string]Tag, groups map[string][]string) Registry {
	return &staticRegistry{tags: tags, groups: groups}
}

// NewDefault returns a registry seeded with the small built-in tag set
// enough to exercise the coordinator end-to-end without the real
// taxonomy file.
func NewDefault() Registry {
	tags := map[string]Tag{
		"sched":      {Name: "sched", KernelNode: "events/sched/enable"},
		"freq":       {Name: "freq", KernelNode: "events/power/cpu_frequency/enable"},
		"idle":       {Name: "idle", KernelNode: "events/power/cpu_idle/enable"},
		"irq":        {Name: "irq", KernelNode: "events/irq/enable"},
		"sync":       {Name: "sync", KernelNode: "events/sync/enable"},
		"workq":      {Name: "workq", KernelNode: "events/workqueue/enable"},
		"memreclaim": {Name: "memreclaim", KernelNode: "events/vmscan/enable"},
		"app":        {Name: "app", UserBit: 1 << 0},
		"ace":        {Name: "ace", UserBit: 1 << 1},
		"binder":     {Name: "binder", KernelNode: "events/binder/enable", UserBit: 1 << 2},
	}
	groups := map[string][]string{
		DefaultGroup: {"sched", "freq", "idle", "irq", "sync", "app"},
		"memory":     {"memreclaim"},
		"ability":    {"ace", "binder"},
	}
	return New(tags, groups)
}

func (r *staticRegistry) KnownTags() []string {
	names := make([]string, 0, len(r.tags))
	for name := range r.tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *staticRegistry) Resolve(tagNames, groupNames []string) ([]string, uint64, error) {
	seen := make(map[string]struct{})
	var ordered []string

	add := func(name string) error {
		if _, ok := seen[name]; ok {
			return nil
		}
		if _, ok := r.tags[name]; !ok {
			return errdefs.New(errdefs.TagError, errdefs.ErrNotFound)
		}
		seen[name] = struct{}{}
		ordered = append(ordered, name)
		return nil
	}

	for _, g := range groupNames {
		members, ok := r.groups[g]
		if !ok {
			return nil, 0, errdefs.New(errdefs.TagError, errdefs.ErrNotFound)
		}
		for _, name := range members {
			if err := add(name); err != nil {
				return nil, 0, err
			}
		}
	}
	for _, name := range tagNames {
		if err := add(name); err != nil {
			return nil, 0, err
		}
	}

	var kernelNodes []string
	var mask uint64
	for _, name := range ordered {
		tag := r.tags[name]
		if tag.KernelNode != "" {
			kernelNodes = append(kernelNodes, tag.KernelNode)
		}
		mask |= tag.UserBit
	}

	return kernelNodes, mask, nil
}
