/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package server contains the HTTP-REST client API server of the
// provisioning agent.
package server

import (
	"net/http"

	"github.com/edgelesssys/fuserun/internal/logging"
	"github.com/edgelesssys/fuserun/provisioner/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Endpoints of the client API.
const (
	ProvisionEndpoint       = "/provision"
	ProvisionVerifyEndpoint = "/provision/verify"
	StatusEndpoint          = "/status"
	RMATokenEndpoint        = "/rma-token"
	EventLogEndpoint        = "/eventlog"
)

// CreateServeMux creates a mux that serves the client API. With a non-nil
// factory every endpoint is instrumented with Prometheus HTTP metrics.
func CreateServeMux(api API, eventlog *events.Log, promFactory *promauto.Factory) serveMux {
	server := &clientAPIServer{api: api}
	var router serveMux
	if promFactory != nil {
		muxRouter := newPromServeMux(promFactory, "provisioner", "client_api")
		muxRouter.setMethodNotAllowedHandler(methodNotAllowedHandler)
		router = muxRouter
	} else {
		muxRouter := http.NewServeMux()
		muxRouter.HandleFunc("/", methodNotAllowedHandler)
		router = muxRouter
	}

	router.HandleFunc(ProvisionEndpoint, server.provisionHandler)
	router.HandleFunc(ProvisionVerifyEndpoint, server.provisionVerifyHandler)
	router.HandleFunc(StatusEndpoint, server.statusHandler)
	router.HandleFunc(RMATokenEndpoint, server.rmaTokenHandler)
	router.Handle(EventLogEndpoint, eventlog.Handler())

	return router
}

// RunClientServer runs the client API HTTP server until it fails.
func RunClientServer(mux http.Handler, address string, zapLogger *zap.Logger) {
	server := http.Server{
		Addr:     address,
		Handler:  mux,
		ErrorLog: logging.NewWrapper(zapLogger),
	}
	zapLogger.Info("Starting client http server", zap.String("address", address))
	err := server.ListenAndServe()
	zapLogger.Warn(err.Error())
}

// RunPrometheusServer runs a HTTP server handling the prometheus metrics
// endpoint and the event log.
func RunPrometheusServer(address string, zapLogger *zap.Logger, reg *prometheus.Registry, eventlog *events.Log) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	mux.Handle("/events", eventlog.Handler())
	zapLogger.Info("Starting prometheus /metrics endpoint", zap.String("address", address))
	err := http.ListenAndServe(address, mux)
	zapLogger.Warn(err.Error())
}
