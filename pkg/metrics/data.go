/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package metrics exposes prometheus gauges and counters for the pool,
// balancer and snapshot components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const poolLabel = "pool"

var (
	// PoolFiles tracks the number of files currently tracked by a pool
	// (recording, cache or snapshot), updated on every Add/age pass.
	PoolFiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hitrace_pool_files",
			Help: "Number of trace files currently tracked by a pool.",
		},
		[]string{poolLabel},
	)

	// PoolBytes tracks the total committed size of a pool in bytes.
	PoolBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hitrace_pool_bytes",
			Help: "Total committed size, in bytes, of a pool.",
		},
		[]string{poolLabel},
	)

	// BalancerAdjustments counts every per-CPU buffer-size adjustment
	// the balancer has issued.
	BalancerAdjustments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hitrace_balancer_adjustments_total",
			Help: "Number of ring-buffer size adjustments issued by the balancer.",
		},
	)

	// DumpDuration observes the wall-clock latency of a dump operation,
	// from entry to either a terminal error code or a populated result.
	DumpDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hitrace_dump_duration_seconds",
			Help:    "Wall-clock duration of a dump operation.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
