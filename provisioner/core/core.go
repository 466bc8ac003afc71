/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package core implements the provisioning pipeline orchestrator. It
// sequences lifecycle gate, entropy setup, flash seed writes and the OTP
// root key commit. The orchestrator holds no persistent state of its own:
// idempotency is derived entirely from the lock status stored in the
// device, so the pipeline is safe to re-invoke after a power loss or reset
// at any point up to the partition lock.
package core

import (
	"fmt"

	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/edgelesssys/fuserun/provisioner/escrow"
	"github.com/edgelesssys/fuserun/provisioner/events"
	"github.com/edgelesssys/fuserun/provisioner/fuse"
	"github.com/edgelesssys/fuserun/provisioner/lifecycle"
	"github.com/edgelesssys/fuserun/provisioner/profile"
	"github.com/edgelesssys/fuserun/provisioner/record"
	"github.com/edgelesssys/fuserun/provisioner/seed"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Outcome is the terminal result of a pipeline run.
type Outcome int

const (
	// OutcomeFailed means the run aborted with an error; the device state
	// is whatever the last completed operation left behind.
	OutcomeFailed Outcome = iota
	// OutcomeSkipped means the target partition was already locked and no
	// operation was performed.
	OutcomeSkipped
	// OutcomeCommitted means secrets were freshly written and the
	// partition was locked.
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "Skipped"
	case OutcomeCommitted:
		return "Committed"
	}
	return "Failed"
}

// VerifyError is returned by ProvisionEnd when the partition lock is not
// set, i.e. provisioning did not complete on this device.
type VerifyError struct {
	Partition device.Partition
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("OTP partition %s is not locked, device secrets are not provisioned", e.Partition)
}

// Core drives the provisioning pipeline against one device.
type Core struct {
	gate           *lifecycle.Gate
	otp            device.OTP
	rng            device.CSRNG
	entropyComplex device.EntropyComplex
	seeds          *seed.Writer
	fuses          *fuse.Committer

	layout      fuse.Layout
	creatorPage device.InfoPage
	ownerPage   device.InfoPage
	seedBytes   int
	profileName string

	escrow  escrow.Escrower
	signer  *record.Signer
	version string
	events  *events.Log
	metrics *Metrics
	log     *zap.Logger
}

// New creates a Core for the given profile and collaborators. The escrow
// backend may be escrow.Stub{} on lines that do not export RMA tokens. The
// signer signs the sign-off record returned by ProvisionEnd.
func New(
	p *profile.Profile,
	lc device.Lifecycle,
	otp device.OTP,
	flash device.Flash,
	rng device.CSRNG,
	entropyComplex device.EntropyComplex,
	escrower escrow.Escrower,
	signer *record.Signer,
	version string,
	eventlog *events.Log,
	promFactory *promauto.Factory,
	log *zap.Logger,
) (*Core, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	states, err := p.States()
	if err != nil {
		return nil, err
	}
	layout, err := p.Layout()
	if err != nil {
		return nil, err
	}

	return &Core{
		gate:           lifecycle.NewGate(lc, otp, states),
		otp:            otp,
		rng:            rng,
		entropyComplex: entropyComplex,
		seeds:          seed.NewWriter(flash, rng, log),
		fuses:          fuse.NewCommitter(otp, rng, log),
		layout:         layout,
		creatorPage:    p.CreatorSeedPage(),
		ownerPage:      p.OwnerSeedPage(),
		seedBytes:      p.Flash.SeedBytes,
		profileName:    p.Name,
		escrow:         escrower,
		signer:         signer,
		version:        version,
		events:         eventlog,
		metrics:        NewMetrics(promFactory, "provisioner"),
		log:            log,
	}, nil
}

// SigningKey returns the public JWK matching the sign-off signing key.
func (c *Core) SigningKey() ([]byte, error) {
	return c.signer.PublicJWK()
}

// Status is a read-only snapshot of the provisioning-relevant device state.
type Status struct {
	Profile         string `json:"profile"`
	LifecycleState  string `json:"lifecycleState"`
	Partition       string `json:"partition"`
	PartitionLocked bool   `json:"partitionLocked"`
}
