/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide collector registry; cmd/hitrace-dumpd
// exposes it over HTTP via NewHTTPListener.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		PoolFiles,
		PoolBytes,
		BalancerAdjustments,
		DumpDuration,
	)
}
