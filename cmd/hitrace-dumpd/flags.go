/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package main

import (
	"github.com/urfave/cli/v2"
)

// rootArgs is a plain struct of flag destinations populated by
// urfave/cli and read once in Action.
type rootArgs struct {
	RootDir        string
	ConfigPath     string
	LogLevel       string
	LogDir         string
	LogToStdout    bool
	MetricsAddress string
}

func buildRootFlags(args *rootArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "root-dir",
			Value:       "/var/run/hitrace-dump",
			Usage:       "set `DIRECTORY` for runtime state and default log location",
			Destination: &args.RootDir,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to the hitrace-dump TOML product configuration",
			Destination: &args.ConfigPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "info",
			Usage:       "set the logging `LEVEL`",
			Destination: &args.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-dir",
			Usage:       "set `DIRECTORY` for rotated log files",
			Destination: &args.LogDir,
		},
		&cli.BoolFlag{
			Name:        "log-to-stdout",
			Usage:       "log to stdout instead of a rotated file",
			Destination: &args.LogToStdout,
		},
		&cli.StringFlag{
			Name:        "metrics-address",
			Usage:       "enable the prometheus metrics server by setting an `ADDRESS` such as \":9109\"",
			Destination: &args.MetricsAddress,
		},
	}
}
