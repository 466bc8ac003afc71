/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// The provisioner daemon runs on the manufacturing test host. It owns
// exactly one device under test, drives the secret provisioning pipeline
// against it and exposes the client REST API for the test harness and the
// fuserun CLI.
package main

import (
	"log"
	"os"

	"github.com/edgelesssys/fuserun/internal/logging"
	"github.com/edgelesssys/fuserun/provisioner/config"
	"github.com/edgelesssys/fuserun/provisioner/core"
	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/edgelesssys/fuserun/provisioner/device/sim"
	"github.com/edgelesssys/fuserun/provisioner/escrow"
	"github.com/edgelesssys/fuserun/provisioner/events"
	"github.com/edgelesssys/fuserun/provisioner/profile"
	"github.com/edgelesssys/fuserun/provisioner/record"
	"github.com/edgelesssys/fuserun/provisioner/server"
	"github.com/edgelesssys/fuserun/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Version is the provisioner version.
var Version = "0.0.0" // Don't touch! Automatically injected at build-time.

// GitCommit is the git commit hash.
var GitCommit = "0000000000000000000000000000000000000000" // Don't touch! Automatically injected at build-time.

func main() {
	zapLogger, err := logging.New()
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync() // flushes buffer, if any

	zapLogger.Info("Starting provisioner", zap.String("version", Version), zap.String("commit", GitCommit))

	fs := afero.NewOsFs()

	var prof *profile.Profile
	if profilePath := os.Getenv(config.ProfilePath); profilePath != "" {
		prof, err = profile.Load(fs, profilePath)
		if err != nil {
			zapLogger.Fatal("Cannot load device profile", zap.Error(err))
		}
	} else {
		prof = profile.Default()
	}
	zapLogger.Info("Using device profile", zap.String("profile", prof.Name))

	initialState, err := device.ParseLifecycleState(
		util.Getenv(config.LifecycleState, config.LifecycleStateDefault))
	if err != nil {
		zapLogger.Fatal("Invalid initial lifecycle state", zap.Error(err))
	}

	// The only transport shipped today is the simulator; the device
	// interfaces are the seam where a hardware bridge plugs in.
	stateDir := util.Getenv(config.StateDir, config.StateDirDefault)
	dut, err := sim.New(fs, stateDir, initialState, zapLogger)
	if err != nil {
		zapLogger.Fatal("Cannot open simulated device", zap.Error(err))
	}

	escrower, err := newEscrower(zapLogger)
	if err != nil {
		zapLogger.Fatal("Cannot configure token escrow", zap.Error(err))
	}

	// A per-agent ephemeral signing key. The matching public JWK travels
	// with every sign-off record, so the harness can archive both.
	signer, err := record.GenerateSigner()
	if err != nil {
		zapLogger.Fatal("Cannot generate sign-off key", zap.Error(err))
	}

	eventlog := events.NewLog()

	// Create Prometheus resources and start the Prometheus server.
	var promFactoryPtr *promauto.Factory
	if promServerAddr := os.Getenv(config.PromAddr); promServerAddr != "" {
		promRegistry := prometheus.NewRegistry()
		promFactory := promauto.With(promRegistry)
		promFactoryPtr = &promFactory
		promFactory.NewGauge(prometheus.GaugeOpts{
			Namespace: "provisioner",
			Name:      "version_info",
			Help:      "Version information of the provisioner.",
			ConstLabels: map[string]string{
				"version": Version,
				"commit":  GitCommit,
			},
		})
		go server.RunPrometheusServer(promServerAddr, zapLogger, promRegistry, eventlog)
	}

	pipeline, err := core.New(prof, dut, dut, dut, dut, dut, escrower, signer, Version, eventlog, promFactoryPtr, zapLogger)
	if err != nil {
		zapLogger.Fatal("Cannot create pipeline core", zap.Error(err))
	}

	mux := server.CreateServeMux(pipeline, eventlog, promFactoryPtr)
	clientAddr := util.Getenv(config.ClientAddr, config.ClientAddrDefault)
	server.RunClientServer(mux, clientAddr, zapLogger)
}

// newEscrower selects the RMA token escrow backend from the environment.
func newEscrower(zapLogger *zap.Logger) (escrow.Escrower, error) {
	switch backend := util.Getenv(config.EscrowBackend, config.EscrowBackendDefault); backend {
	case "off":
		return escrow.Stub{}, nil
	case "hsm":
		return escrow.NewHSM(escrow.HSMConfig{
			ModulePath: util.MustGetenv(config.HSMModulePath),
			TokenLabel: util.MustGetenv(config.HSMTokenLabel),
			PIN:        util.MustGetenv(config.HSMPin),
			KeyLabel:   util.MustGetenv(config.HSMKeyLabel),
		}, zapLogger)
	case "akv":
		return escrow.NewAKV(
			util.MustGetenv(config.AKVVaultURL),
			util.MustGetenv(config.AKVKeyName),
			os.Getenv(config.AKVKeyVersion),
			zapLogger)
	default:
		zapLogger.Error("Unknown escrow backend", zap.String("backend", backend))
		return nil, escrow.ErrEscrowDisabled
	}
}
