/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package recording

import (
	"os"

	"github.com/pkg/errors"

	"github.com/hiviewdfx/hitrace-dump/pkg/errdefs"
)

func renameFile(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return errdefs.New(errdefs.FileError, errors.Wrapf(err, "rename %s to %s", oldPath, newPath))
	}
	return nil
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
