/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package lifecycle gates provisioning on the device lifecycle state and the
// lock status of the target OTP partition.
package lifecycle

import (
	"context"
	"fmt"
	"slices"

	"github.com/edgelesssys/fuserun/provisioner/device"
)

// NotEligibleError is returned when the device lifecycle state does not
// permit provisioning. It is not retryable; the operator must transition the
// device first.
type NotEligibleError struct {
	State device.LifecycleState
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("device in lifecycle state %s is not eligible for provisioning", e.State)
}

// Gate performs the eligibility and lock checks. Both checks query the
// collaborators on every call and never cache: lifecycle and lock state are
// mutated only by external operations, and acting on a stale answer risks a
// destructive write, while re-checking costs a single register read.
type Gate struct {
	lc  device.Lifecycle
	otp device.OTP

	eligible []device.LifecycleState
}

// NewGate creates a Gate that accepts the given lifecycle states.
func NewGate(lc device.Lifecycle, otp device.OTP, eligible []device.LifecycleState) *Gate {
	return &Gate{lc: lc, otp: otp, eligible: eligible}
}

// CheckEligible verifies that the device is in an operational manufacturing
// state. It fails closed: any read error or unknown state rejects.
func (g *Gate) CheckEligible(ctx context.Context) error {
	state, err := g.lc.State(ctx)
	if err != nil {
		return fmt.Errorf("reading lifecycle state: %w", err)
	}
	if !slices.Contains(g.eligible, state) {
		return &NotEligibleError{State: state}
	}
	return nil
}

// State reads the current lifecycle state without judging eligibility.
func (g *Gate) State(ctx context.Context) (device.LifecycleState, error) {
	state, err := g.lc.State(ctx)
	if err != nil {
		return device.StateInvalid, fmt.Errorf("reading lifecycle state: %w", err)
	}
	return state, nil
}

// PartitionLocked reports whether the partition digest has been computed.
// Pure read, no side effect.
func (g *Gate) PartitionLocked(ctx context.Context, partition device.Partition) (bool, error) {
	locked, err := g.otp.IsDigestComputed(ctx, partition)
	if err != nil {
		return false, fmt.Errorf("reading digest status of partition %s: %w", partition, err)
	}
	return locked, nil
}
