/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package balancer implements the CPU buffer balancer: a detached task
// that periodically resizes each CPU's trace buffer based on its recent
// utilization, sampled from per-CPU /proc/stat deltas.
package balancer

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CPUTimes holds one sample's active and total jiffie counters for a
// single CPU, per the /proc/stat line layout: user, nice, system, idle,
// iowait, irq, softirq, steal.
type CPUTimes struct {
	Active uint64
	Total  uint64
}

// ReadPerCPUStat reads every "cpuN" line from /proc/stat, returning a map
// keyed by CPU index. The aggregate "cpu" line (no index) is skipped.
func ReadPerCPUStat() (map[int]CPUTimes, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, errors.Wrap(err, "open /proc/stat")
	}
	defer f.Close()
	return ParsePerCPUStat(f)
}

// ParsePerCPUStat parses /proc/stat-formatted content from r, exposed
// directly so tests can exercise the parsing logic without the real file.
func ParsePerCPUStat(r io.Reader) (map[int]CPUTimes, error) {
	out := make(map[int]CPUTimes)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 {
			continue
		}
		label := fields[0]
		if !strings.HasPrefix(label, "cpu") || label == "cpu" {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(label, "cpu"))
		if err != nil {
			continue
		}

		vals := make([]uint64, 0, len(fields)-1)
		for _, s := range fields[1:] {
			v, _ := strconv.ParseUint(s, 10, 64)
			vals = append(vals, v)
		}
		if len(vals) < 7 {
			continue
		}
		active := vals[0] + vals[1] + vals[2] + vals[5] + vals[6]
		total := active + vals[3] + vals[4]
		if len(vals) > 7 {
			active += vals[7]
			total += vals[7]
		}
		out[idx] = CPUTimes{Active: active, Total: total}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan /proc/stat")
	}
	return out, nil
}

// Utilization returns the fraction of active jiffies between two samples
// of the same CPU, clamped to [0, 1].
func Utilization(prev, cur CPUTimes) float64 {
	dTotal := cur.Total - prev.Total
	if cur.Total < prev.Total {
		return 0
	}
	if dTotal == 0 {
		return 0
	}
	dActive := cur.Active - prev.Active
	if cur.Active < prev.Active {
		dActive = 0
	}
	u := float64(dActive) / float64(dTotal)
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
