/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package snapshot

import (
	"os"

	"github.com/hiviewdfx/hitrace-dump/pkg/utils/sysinfo"
)

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func renameFile(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func hasMinFreeSpace(dir string, minMB int) (bool, error) {
	return sysinfo.HasMinFreeSpace(dir, minMB)
}
