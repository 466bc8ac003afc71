/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package device defines the hardware collaborator interfaces of the
// provisioning pipeline: lifecycle controller, OTP controller, flash
// controller and the CSRNG/entropy complex. The packages implementing the
// pipeline stages only ever talk to these interfaces; the concrete transport
// (simulator, hardware bridge) is injected by the caller.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LifecycleState is the device-wide manufacturing/operational mode reported
// by the lifecycle controller. It gates which provisioning operations are
// permitted and is read-only to this pipeline.
type LifecycleState int

const (
	// StateInvalid marks an unknown or corrupted lifecycle state.
	StateInvalid LifecycleState = iota
	StateRaw
	StateTestUnlocked
	StateTestLocked
	StateDev
	StateProd
	StateProdEnd
	StateRma
	StateScrap
)

var lifecycleStateNames = map[LifecycleState]string{
	StateInvalid:      "INVALID",
	StateRaw:          "RAW",
	StateTestUnlocked: "TEST_UNLOCKED",
	StateTestLocked:   "TEST_LOCKED",
	StateDev:          "DEV",
	StateProd:         "PROD",
	StateProdEnd:      "PROD_END",
	StateRma:          "RMA",
	StateScrap:        "SCRAP",
}

func (s LifecycleState) String() string {
	if name, ok := lifecycleStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("LifecycleState(%d)", int(s))
}

// ParseLifecycleState parses the canonical name of a lifecycle state, as it
// appears in device profiles.
func ParseLifecycleState(name string) (LifecycleState, error) {
	for state, stateName := range lifecycleStateNames {
		if stateName == name {
			return state, nil
		}
	}
	return StateInvalid, fmt.Errorf("unknown lifecycle state %q", name)
}

// Partition identifies a logical secret partition of the OTP controller.
type Partition int

const (
	PartitionSecret0 Partition = iota
	PartitionSecret1
	PartitionSecret2
)

func (p Partition) String() string {
	switch p {
	case PartitionSecret0:
		return "SECRET0"
	case PartitionSecret1:
		return "SECRET1"
	case PartitionSecret2:
		return "SECRET2"
	}
	return fmt.Sprintf("Partition(%d)", int(p))
}

// InfoPage addresses one flash info partition page.
type InfoPage struct {
	Page        uint32
	Bank        uint32
	PartitionID uint32
}

// ErrPartitionLocked is returned by OTP implementations when a write or lock
// targets a partition whose digest has already been computed. Once set, the
// lock is permanent for the life of the device.
var ErrPartitionLocked = errors.New("otp partition is locked")

// Lifecycle reports the device lifecycle state.
type Lifecycle interface {
	// State reads the current lifecycle state from the controller.
	State(ctx context.Context) (LifecycleState, error)
}

// OTP exposes the one-time-programmable fuse controller primitives used by
// the pipeline. Writes are irreversible; there is no erase.
type OTP interface {
	// IsDigestComputed reports whether the partition digest has been
	// computed, i.e. whether the partition is permanently locked.
	IsDigestComputed(ctx context.Context, partition Partition) (bool, error)
	// Write programs data at the given byte offset relative to the start of
	// the partition. The offset and length must be 64-bit aligned.
	Write(ctx context.Context, partition Partition, offset int, data []byte) error
	// LockPartition triggers the digest computation over the partition,
	// sealing it against any further write. There is no payload digest
	// override; the controller computes the digest itself.
	LockPartition(ctx context.Context, partition Partition) error
}

// Flash exposes the flash controller primitives for info partition pages.
type Flash interface {
	// SetupInfoRegion configures scrambling and access for the given info
	// page and returns its byte address.
	SetupInfoRegion(ctx context.Context, page InfoPage) (uint32, error)
	// EraseAndProgram erases the page at address and programs data into it.
	EraseAndProgram(ctx context.Context, address uint32, partitionID uint32, data []byte) error
	// Read reads byteLen bytes from the page at address. The delay is
	// applied between issuing the read and sampling the data, used to
	// exercise read timing margins; zero means no delay.
	Read(ctx context.Context, address uint32, partitionID uint32, byteLen int, delay time.Duration) ([]byte, error)
}

// CSRNG is the deterministic random bit generator fed by the hardware noise
// source. Sessions follow the instantiate/generate/uninstantiate lifecycle;
// only one session may be open at a time.
type CSRNG interface {
	Instantiate(ctx context.Context, disableTrngInput bool, seedMaterial []byte) error
	Reseed(ctx context.Context, disableTrngInput bool, seedMaterial []byte) error
	// Generate returns byteLen bytes of output. byteLen must be a multiple
	// of 4, matching the word-oriented hardware interface.
	Generate(ctx context.Context, seedMaterial []byte, byteLen int) ([]byte, error)
	Uninstantiate(ctx context.Context) error
}

// EntropyComplex controls the entropy subsystem as a whole, beyond a single
// CSRNG session.
type EntropyComplex interface {
	// Init re-initializes the entropy complex in continuous mode with the
	// entropy source health checks configured for FIPS mode.
	Init(ctx context.Context) error
}
