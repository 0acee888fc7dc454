/*
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 */

package metrics

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hiviewdfx/hitrace-dump/internal/logging"
)

var endpointPromMetrics = "/v1/metrics"

// NewHTTPListener starts a metrics HTTP server on addr and blocks until it
// exits. Callers typically run it in its own goroutine.
func NewHTTPListener(addr string) error {
	if addr == "" {
		return errors.New("metrics HTTP address is empty")
	}

	mux := http.NewServeMux()
	mux.Handle(endpointPromMetrics, promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))

	logging.WithField("component", "metrics").Infof("starting metrics HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		return errors.Wrapf(err, "serve metrics on %s", addr)
	}
	return nil
}
