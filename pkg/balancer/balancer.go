/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package balancer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
	"github.com/hiviewdfx/hitrace-dump/pkg/metrics"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
)

// Interval is the balancer's wake-up period.
const Interval = 15 * time.Second

// MinBufferSizeKB and MaxBufferSizeKB bound the per-CPU buffer size the
// sizing strategy below will choose.
const (
	MinBufferSizeKB = 1 * 1024
	MaxBufferSizeKB = 32 * 1024
)

// SizeForUtilization is the sizing strategy: linear interpolation
// between MinBufferSizeKB at 0% utilization and MaxBufferSizeKB at 100%.
func SizeForUtilization(utilization float64) int {
	if utilization < 0 {
		utilization = 0
	}
	if utilization > 1 {
		utilization = 1
	}
	span := MaxBufferSizeKB - MinBufferSizeKB
	return MinBufferSizeKB + int(float64(span)*utilization)
}

func perCPUBufferSizeNode(cpu int) string {
	return fmt.Sprintf("per_cpu/cpu%d/buffer_size_kb", cpu)
}

// ModeGetter reports the coordinator's current composite mode bit for
// OPEN, used by the balancer to decide whether it should keep running.
type ModeGetter func() bool

// Balancer is a detached, cancellable task.
type Balancer struct {
	sys            sysfs.Sysfs
	cpuCount       int
	isOpen         ModeGetter
	tamperBaseline string
	interval       time.Duration
	stop           chan struct{}
	done           chan struct{}
	running        int32
}

// New returns a Balancer for cpuCount CPUs, woken every Interval.
// tamperBaseline is the user-tag property value observed at open time;
// the balancer exits if a later read no longer matches it.
func New(sys sysfs.Sysfs, cpuCount int, isOpen ModeGetter, tamperBaseline string) *Balancer {
	return &Balancer{
		sys:            sys,
		cpuCount:       cpuCount,
		isOpen:         isOpen,
		tamperBaseline: tamperBaseline,
		interval:       Interval,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// WithInterval overrides the wake-up period; production callers never
// need this, but tests use it to avoid waiting on the real 15s cadence.
func (b *Balancer) WithInterval(d time.Duration) *Balancer {
	b.interval = d
	return b
}

// Start launches the balancer's loop in its own goroutine. Calling Start
// twice on the same Balancer is a programming error; callers construct a
// fresh Balancer per session.
func (b *Balancer) Start() {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return
	}
	go b.run()
}

// Stop requests the balancer's loop to exit and waits for it to do so.
func (b *Balancer) Stop() {
	if atomic.LoadInt32(&b.running) == 0 {
		return
	}
	close(b.stop)
	<-b.done
}

func (b *Balancer) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	prev := make(map[int]CPUTimes)
	if samples, err := ReadPerCPUStat(); err == nil {
		prev = samples
	}

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if !b.isOpen() {
				logging.L().Debug("balancer: mode no longer OPEN, exiting")
				return
			}
			if b.tampered() {
				logging.L().Warn("balancer: user-tag property tampered externally, exiting")
				return
			}
			prev = b.tick(prev)
		}
	}
}

func (b *Balancer) tampered() bool {
	current, err := b.sys.ReadProperty(sysfs.UserTagProperty)
	if err != nil {
		return false
	}
	return current != b.tamperBaseline
}

func (b *Balancer) tick(prev map[int]CPUTimes) map[int]CPUTimes {
	cur, err := ReadPerCPUStat()
	if err != nil {
		logging.L().WithError(err).Warn("balancer: read /proc/stat failed, skipping this tick")
		return prev
	}

	for cpu := 0; cpu < b.cpuCount; cpu++ {
		curTimes, ok := cur[cpu]
		if !ok {
			continue
		}
		prevTimes := prev[cpu]
		util := Utilization(prevTimes, curTimes)
		size := SizeForUtilization(util)
		if err := b.sys.WriteNode(perCPUBufferSizeNode(cpu), fmt.Sprintf("%d", size)); err != nil {
			logging.L().WithError(err).Debugf("balancer: resize cpu%d failed", cpu)
			continue
		}
		metrics.BalancerAdjustments.Inc()
	}
	return cur
}
