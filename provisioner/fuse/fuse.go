/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package fuse commits root key shares into an OTP secret partition and
// locks the partition. The lock is the point of no return: after the digest
// is computed the partition is permanently sealed and the device cannot be
// provisioned again.
package fuse

import (
	"context"
	"fmt"

	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/edgelesssys/fuserun/provisioner/entropy"
	"github.com/edgelesssys/fuserun/provisioner/shares"
	"go.uber.org/zap"
)

// Layout describes where the two root key shares live inside the target OTP
// partition. Offsets are bytes relative to the partition start.
type Layout struct {
	Partition    device.Partition
	Share0Offset int
	Share1Offset int
	ShareBytes   int
}

// CommitError reports a failed root key commit. If the failure occurred
// before the partition lock, the partition is still unlocked and the next
// pipeline run will retry the full write.
type CommitError struct {
	Step string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing root key shares: %s: %s", e.Step, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Committer writes root key shares into OTP.
type Committer struct {
	otp device.OTP
	rng device.CSRNG
	log *zap.Logger
}

// NewCommitter creates a Committer over the given collaborators.
func NewCommitter(otp device.OTP, rng device.CSRNG, log *zap.Logger) *Committer {
	return &Committer{otp: otp, rng: rng, log: log}
}

// Commit generates two independent root key shares, validates them, writes
// them to their offsets in the target partition and locks the partition.
//
// The CSRNG is reseeded between the two draws so a correlated entropy
// failure cannot yield related shares. The share pair is validated twice:
// once before the OTP writes and once after, over the same in-memory
// buffers. The second pass guards against a transient memory fault flipping
// the data between validation and write; it cannot re-read OTP since secret
// partitions do not support non-destructive verification reads. The
// partition lock is issued only after the second validation passes: locking
// a partition holding material we cannot vouch for is unrecoverable.
func (c *Committer) Commit(ctx context.Context, layout Layout) error {
	if layout.ShareBytes <= 0 || layout.ShareBytes%8 != 0 {
		return &CommitError{Step: "layout", Err: fmt.Errorf("share size %d is not a positive multiple of 8 bytes", layout.ShareBytes)}
	}

	var share0, share1 *entropy.Buffer
	defer func() {
		if share0 != nil {
			share0.Destroy()
		}
		if share1 != nil {
			share1.Destroy()
		}
	}()

	err := entropy.WithSession(ctx, c.rng, func(s *entropy.Session) error {
		var err error
		if share0, err = s.Generate(ctx, layout.ShareBytes); err != nil {
			return err
		}
		if err := s.Reseed(ctx); err != nil {
			return err
		}
		share1, err = s.Generate(ctx, layout.ShareBytes)
		return err
	})
	if err != nil {
		return err
	}

	if err := shares.Check(share0.Bytes(), share1.Bytes()); err != nil {
		return &CommitError{Step: "pre-write validation", Err: err}
	}

	c.log.Debug("Writing root key shares",
		zap.String("partition", layout.Partition.String()),
		zap.Int("shareBytes", layout.ShareBytes))

	if err := c.otp.Write(ctx, layout.Partition, layout.Share0Offset, share0.Bytes()); err != nil {
		return &CommitError{Step: "writing share 0", Err: err}
	}
	if err := c.otp.Write(ctx, layout.Partition, layout.Share1Offset, share1.Bytes()); err != nil {
		return &CommitError{Step: "writing share 1", Err: err}
	}

	if err := shares.Check(share0.Bytes(), share1.Bytes()); err != nil {
		return &CommitError{Step: "post-write validation", Err: err}
	}

	if err := c.otp.LockPartition(ctx, layout.Partition); err != nil {
		return &CommitError{Step: "locking partition", Err: err}
	}

	c.log.Info("Root key shares committed and partition locked",
		zap.String("partition", layout.Partition.String()))
	return nil
}
