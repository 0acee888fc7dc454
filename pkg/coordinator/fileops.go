/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package coordinator

import (
	"os"

	"github.com/hiviewdfx/hitrace-dump/pkg/sysfs"
)

func openTraceMarker(sys sysfs.Sysfs) (*os.File, error) {
	return os.OpenFile(sys.TraceMarkerPath(), os.O_WRONLY, 0)
}
