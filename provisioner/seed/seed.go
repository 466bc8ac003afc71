/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package seed programs entropy-derived secret seeds into flash info
// partition pages and verifies they round-trip. The same routine provisions
// the creator and the owner seed; only the target page differs.
package seed

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/edgelesssys/fuserun/provisioner/entropy"
	"go.uber.org/zap"
)

// Reason describes why a seed write failed verification.
type Reason string

const (
	// ReasonDegenerateWord means a generated 32-bit word is all-zero or
	// all-ones, a sign of a broken entropy path.
	ReasonDegenerateWord Reason = "degenerate word"
	// ReasonMismatch means a readback word differs from what was
	// programmed, a program or erase fault.
	ReasonMismatch Reason = "readback mismatch"
)

// WriteError reports a failed seed provisioning. It indicates a hardware
// fault and requires diagnostics; re-running the pipeline will repeat the
// erase-and-program, which is safe while the OTP partition is unlocked.
type WriteError struct {
	Page   device.InfoPage
	Word   int
	Reason Reason
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("seed write to flash info page %d (bank %d, partition %d): %s at word %d",
		e.Page.Page, e.Page.Bank, e.Page.PartitionID, e.Reason, e.Word)
}

// Writer provisions secret seeds into flash info pages.
type Writer struct {
	flash device.Flash
	rng   device.CSRNG
	log   *zap.Logger
}

// NewWriter creates a seed Writer over the given collaborators.
func NewWriter(flash device.Flash, rng device.CSRNG, log *zap.Logger) *Writer {
	return &Writer{flash: flash, rng: rng, log: log}
}

// Write generates byteLen bytes of entropy, erase-programs them into the
// given info page and verifies the readback. byteLen must be a multiple
// of 4.
//
// The entropy session is scoped to the generation only; flash programming
// runs with the CSRNG uninstantiated.
func (w *Writer) Write(ctx context.Context, page device.InfoPage, byteLen int) error {
	if byteLen <= 0 || byteLen%4 != 0 {
		return fmt.Errorf("seed length %d is not a positive multiple of 4 bytes", byteLen)
	}

	var buf *entropy.Buffer
	defer func() {
		if buf != nil {
			buf.Destroy()
		}
	}()

	err := entropy.WithSession(ctx, w.rng, func(s *entropy.Session) error {
		var err error
		buf, err = s.Generate(ctx, byteLen)
		return err
	})
	if err != nil {
		// buf may already be populated when the session teardown fails.
		return err
	}

	address, err := w.flash.SetupInfoRegion(ctx, page)
	if err != nil {
		return fmt.Errorf("setting up flash info region: %w", err)
	}

	w.log.Debug("Programming secret seed",
		zap.Uint32("page", page.Page),
		zap.Uint32("bank", page.Bank),
		zap.Uint32("flashPartition", page.PartitionID),
		zap.Int("bytes", byteLen))

	if err := w.flash.EraseAndProgram(ctx, address, page.PartitionID, buf.Bytes()); err != nil {
		return fmt.Errorf("programming flash info page %d: %w", page.Page, err)
	}

	readback, err := w.flash.Read(ctx, address, page.PartitionID, byteLen, 0)
	if err != nil {
		return fmt.Errorf("reading back flash info page %d: %w", page.Page, err)
	}
	defer wipe(readback)

	return verifySeed(page, buf.Bytes(), readback)
}

// verifySeed checks every 32-bit word of the programmed seed against the
// readback. A zero or all-ones word rejects even when it round-trips, since
// it indicates weak entropy rather than a flash fault. Like the share
// check, the scan visits every word before reporting.
func verifySeed(page device.InfoPage, want, got []byte) error {
	var found *WriteError
	record := func(word int, reason Reason) {
		if found == nil {
			found = &WriteError{Page: page, Word: word, Reason: reason}
		}
	}
	for i := 0; i < len(want)/4; i++ {
		word := binary.LittleEndian.Uint32(want[4*i:])
		if word == 0 || word == math.MaxUint32 {
			record(i, ReasonDegenerateWord)
		}
		if len(got) < 4*i+4 || word != binary.LittleEndian.Uint32(got[4*i:]) {
			record(i, ReasonMismatch)
		}
	}
	if found != nil {
		return found
	}
	return nil
}

func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
