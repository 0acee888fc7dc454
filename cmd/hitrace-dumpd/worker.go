/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hiviewdfx/hitrace-dump/pkg/snapshot"
	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
)

// snapshotWorkerCommand is the hidden re-exec target the snapshot engine
// launches in place of a raw fork(): `hitrace-dumpd __snapshot-worker`.
// It never returns to the urfave/cli dispatcher; it exits with the code
// snapshot.RunChild computes.
func snapshotWorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "__snapshot-worker",
		Hidden: true,
		Action: func(c *cli.Context) error {
			sys, err := sysfs.Discover()
			if err != nil {
				os.Exit(1)
			}
			os.Exit(snapshot.RunChild(sys))
			return nil
		},
	}
}
