/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/edgelesssys/fuserun/provisioner/entropy"
	"github.com/edgelesssys/fuserun/provisioner/escrow"
	"github.com/edgelesssys/fuserun/provisioner/record"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline stage names, used in events and metrics.
const (
	stageLifecycleGate = "lifecycle_gate"
	stageLockCheck     = "lock_check"
	stageEntropyInit   = "entropy_init"
	stageCreatorSeed   = "creator_seed"
	stageOwnerSeed     = "owner_seed"
	stageRootKeyCommit = "root_key_commit"
	stageTokenExport   = "rma_token_export"
)

// ProvisionStart runs the full provisioning pipeline: lifecycle gate,
// skip-if-locked, entropy complex re-init, creator and owner seed writes,
// root key share commit and partition lock.
//
// Invoking it again after a Committed run yields Skipped without touching
// the device. Invoking it again after a Failed run retries everything from
// the top; all operations before the partition lock are idempotent.
func (c *Core) ProvisionStart(ctx context.Context) (Outcome, error) {
	runID := uuid.NewString()
	log := c.log.With(zap.String("runId", runID))
	log.Info("ProvisionStart called", zap.String("profile", c.profileName))

	outcome, err := c.provision(ctx, runID, log)

	c.metrics.CountRun(outcome)
	c.events.Outcome(runID, outcome.String(), err)
	if err != nil {
		log.Error("ProvisionStart failed", zap.Error(err))
	} else {
		log.Info("ProvisionStart finished", zap.Stringer("outcome", outcome))
	}
	return outcome, err
}

func (c *Core) provision(ctx context.Context, runID string, log *zap.Logger) (Outcome, error) {
	if err := c.stage(runID, stageLifecycleGate, func() error {
		return c.gate.CheckEligible(ctx)
	}); err != nil {
		return OutcomeFailed, err
	}

	var locked bool
	if err := c.stage(runID, stageLockCheck, func() error {
		var err error
		locked, err = c.gate.PartitionLocked(ctx, c.layout.Partition)
		return err
	}); err != nil {
		return OutcomeFailed, err
	}
	if locked {
		// The secret info flash pages and the OTP secrets cannot be
		// reconfigured once the partition digest is set. This is the
		// success path that makes the whole pipeline idempotent.
		log.Info("Partition already locked, skipping provisioning",
			zap.String("partition", c.layout.Partition.String()))
		c.metrics.SetLocked(true)
		return OutcomeSkipped, nil
	}

	if err := c.stage(runID, stageEntropyInit, func() error {
		if err := c.entropyComplex.Init(ctx); err != nil {
			return fmt.Errorf("re-initializing entropy complex: %w", err)
		}
		return nil
	}); err != nil {
		return OutcomeFailed, err
	}

	if err := c.stage(runID, stageCreatorSeed, func() error {
		return c.seeds.Write(ctx, c.creatorPage, c.seedBytes)
	}); err != nil {
		return OutcomeFailed, err
	}

	if err := c.stage(runID, stageOwnerSeed, func() error {
		return c.seeds.Write(ctx, c.ownerPage, c.seedBytes)
	}); err != nil {
		return OutcomeFailed, err
	}

	if err := c.stage(runID, stageRootKeyCommit, func() error {
		return c.fuses.Commit(ctx, c.layout)
	}); err != nil {
		return OutcomeFailed, err
	}

	c.metrics.SetLocked(true)
	return OutcomeCommitted, nil
}

// ProvisionEnd is the read-only confirmation entry point. The harness calls
// it after a hardware reset to verify the partition lock survived the power
// cycle; only then does the device pass manufacturing sign-off. On success
// it returns the signed sign-off record the harness archives.
func (c *Core) ProvisionEnd(ctx context.Context) (Outcome, []byte, error) {
	runID := uuid.NewString()
	log := c.log.With(zap.String("runId", runID))
	log.Info("ProvisionEnd called")
	startedAt := time.Now()

	state, err := c.gate.State(ctx)
	if err != nil {
		return OutcomeFailed, nil, err
	}
	locked, err := c.gate.PartitionLocked(ctx, c.layout.Partition)
	if err != nil {
		return OutcomeFailed, nil, err
	}
	if !locked {
		err := &VerifyError{Partition: c.layout.Partition}
		log.Error("ProvisionEnd failed", zap.Error(err))
		return OutcomeFailed, nil, err
	}
	c.metrics.SetLocked(true)

	signOff, err := c.signer.Sign(record.SignOff{
		RunID:          runID,
		Profile:        c.profileName,
		LifecycleState: state.String(),
		Outcome:        OutcomeCommitted.String(),
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		AgentVersion:   c.version,
	})
	if err != nil {
		return OutcomeFailed, nil, fmt.Errorf("signing off: %w", err)
	}
	log.Info("ProvisionEnd finished")
	return OutcomeCommitted, signOff, nil
}

// GetStatus reports the lifecycle state and partition lock status.
func (c *Core) GetStatus(ctx context.Context) (Status, error) {
	state, err := c.gate.State(ctx)
	if err != nil {
		return Status{}, err
	}
	locked, err := c.gate.PartitionLocked(ctx, c.layout.Partition)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Profile:         c.profileName,
		LifecycleState:  state.String(),
		Partition:       c.layout.Partition.String(),
		PartitionLocked: locked,
	}, nil
}

// rmaTokenBytes is the size of an RMA unlock token.
const rmaTokenBytes = 16

// ExportRMAToken generates an RMA unlock token from on-device entropy and
// returns it in escrowed (asymmetrically encrypted) form. The plaintext
// token is destroyed before the call returns.
func (c *Core) ExportRMAToken(ctx context.Context) (*escrow.WrappedToken, error) {
	runID := uuid.NewString()
	log := c.log.With(zap.String("runId", runID))
	log.Info("ExportRMAToken called")

	var wrapped *escrow.WrappedToken
	err := c.stage(runID, stageTokenExport, func() error {
		if err := c.gate.CheckEligible(ctx); err != nil {
			return err
		}

		var token *entropy.Buffer
		defer func() {
			if token != nil {
				token.Destroy()
			}
		}()

		err := entropy.WithSession(ctx, c.rng, func(s *entropy.Session) error {
			var err error
			token, err = s.Generate(ctx, rmaTokenBytes)
			return err
		})
		if err != nil {
			// token may already be populated when the session teardown
			// fails.
			return err
		}

		if err := checkToken(token.Bytes()); err != nil {
			return err
		}

		wrapped, err = c.escrow.WrapToken(ctx, token.Bytes())
		if err != nil {
			return fmt.Errorf("escrowing token: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("ExportRMAToken failed", zap.Error(err))
		return nil, err
	}
	log.Info("ExportRMAToken finished", zap.String("keyId", wrapped.KeyID))
	return wrapped, nil
}

// checkToken rejects degenerate token values, same word policy as the
// share check.
func checkToken(token []byte) error {
	for i := 0; i < len(token)/8; i++ {
		word := binary.LittleEndian.Uint64(token[8*i:])
		if word == 0 || word == math.MaxUint64 {
			return fmt.Errorf("degenerate token word at index %d", i)
		}
	}
	return nil
}

// stage runs one pipeline stage and records its result in the event log
// and metrics.
func (c *Core) stage(runID, name string, fn func() error) error {
	err := fn()
	c.events.Stage(runID, name, err)
	if err != nil {
		c.metrics.CountStageFailure(name)
	}
	return err
}
