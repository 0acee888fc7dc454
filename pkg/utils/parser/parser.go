/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

// Package parser collects small string-to-value helpers shared by config
// loading and CLI flag parsing, the way the daemon's own utils/parser
// keeps memory-limit parsing in one place instead of scattering regexes.
package parser

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	unitMultipliers     map[string]int64
	unitMultipliersOnce sync.Once
)

func initUnitMultipliers() {
	unitMultipliers = make(map[string]int64, 10)

	unitMultipliers["KiB"] = 1024
	unitMultipliers["MiB"] = unitMultipliers["KiB"] * 1024
	unitMultipliers["GiB"] = unitMultipliers["MiB"] * 1024
	unitMultipliers["TiB"] = unitMultipliers["GiB"] * 1024
	unitMultipliers["PiB"] = unitMultipliers["TiB"] * 1024

	unitMultipliers["Ki"] = 1024
	unitMultipliers["Mi"] = unitMultipliers["Ki"] * 1024
	unitMultipliers["Gi"] = unitMultipliers["Mi"] * 1024
	unitMultipliers["Ti"] = unitMultipliers["Gi"] * 1024
	unitMultipliers["Pi"] = unitMultipliers["Ti"] * 1024
}

// MemoryConfigToBytes converts a memory-limit expression ("20%", "30MiB",
// "10240B", a bare number) to bytes, resolving a percentage against
// totalMemoryBytes. An empty string yields -1. No other package of this
// module calls it.
func MemoryConfigToBytes(data string, totalMemoryBytes int) (int64, error) {
	if data == "" {
		return -1, nil
	}

	value, err := strconv.ParseFloat(data, 64)
	if err == nil {
		return int64(value), nil
	}

	re := regexp.MustCompile(`(\d*\.?\d+)([a-zA-Z%]+)`)
	matches := re.FindStringSubmatch(data)
	if len(matches) != 3 {
		return 0, errors.Errorf("failed to convert data to bytes: unknown unit in %s", data)
	}

	valueString, unit := matches[1], matches[2]
	value, err = strconv.ParseFloat(valueString, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse memory limit")
	}

	if unit == "B" {
		return int64(value), nil
	}

	if unit == "%" {
		limitMemory := float64(totalMemoryBytes) * value / 100
		return int64(limitMemory + 0.5), nil
	}

	unitMultipliersOnce.Do(initUnitMultipliers)

	multiplier := unitMultipliers[unit]
	return int64(value * float64(multiplier)), nil
}

// ParseDurationWithDefault parses raw as a positive time.Duration,
// falling back to defaultValue (with a warning naming paramName) on a
// parse error, zero, or negative result; an empty raw also yields
// defaultValue. No other package of this module calls it.
func ParseDurationWithDefault(raw string, paramName string, defaultValue time.Duration) time.Duration {
	if raw == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("invalid duration %q for %s, using default %s", raw, paramName, defaultValue)
		return defaultValue
	}

	if d <= 0 {
		logrus.Warnf("non-positive duration %q for %s, using default %s", raw, paramName, defaultValue)
		return defaultValue
	}

	return d
}
