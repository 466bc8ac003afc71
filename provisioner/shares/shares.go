/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package shares validates pairs of root key shares before they are
// committed to OTP. A share pair is degenerate if any 64-bit word is
// all-zero, all-ones, or equal between the two shares; committing such a
// pair would silently weaken the root key for the life of the device.
package shares

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reason describes why a share pair was rejected.
type Reason string

const (
	// ReasonEqualWords means the shares carry the same word at the same
	// offset, collapsing the pair to a knowable relationship.
	ReasonEqualWords Reason = "equal words"
	// ReasonAllZero means a word of one share is all-zero bits.
	ReasonAllZero Reason = "all-zero word"
	// ReasonAllOnes means a word of one share is all-one bits.
	ReasonAllOnes Reason = "all-ones word"
)

// DegenerateSharesError reports a statistically implausible share pair. It
// is always fatal to the current provisioning attempt; the fault is assumed
// transient and the caller re-attempts with fresh entropy.
type DegenerateSharesError struct {
	// Word is the index of the first offending 64-bit word.
	Word int
	// Share is 0 or 1 for a single-share defect, -1 for an equal-words
	// defect.
	Share  int
	Reason Reason
}

func (e *DegenerateSharesError) Error() string {
	if e.Share < 0 {
		return fmt.Sprintf("degenerate share pair: %s at word %d", e.Reason, e.Word)
	}
	return fmt.Sprintf("degenerate share pair: %s in share %d at word %d", e.Reason, e.Share, e.Word)
}

// Check validates a share pair at 64-bit word granularity. Both shares must
// have the same length, a multiple of 8 bytes.
//
// The scan always visits every word and records the first defect rather
// than exiting early.
func Check(share0, share1 []byte) error {
	if len(share0) != len(share1) {
		return fmt.Errorf("share length mismatch: %d vs %d bytes", len(share0), len(share1))
	}
	if len(share0) == 0 || len(share0)%8 != 0 {
		return fmt.Errorf("share length %d is not a positive multiple of 8 bytes", len(share0))
	}

	var found *DegenerateSharesError
	record := func(word, share int, reason Reason) {
		if found == nil {
			found = &DegenerateSharesError{Word: word, Share: share, Reason: reason}
		}
	}

	for i := 0; i < len(share0)/8; i++ {
		w0 := binary.LittleEndian.Uint64(share0[8*i:])
		w1 := binary.LittleEndian.Uint64(share1[8*i:])
		if w0 == w1 {
			record(i, -1, ReasonEqualWords)
		}
		if w0 == 0 {
			record(i, 0, ReasonAllZero)
		}
		if w0 == math.MaxUint64 {
			record(i, 0, ReasonAllOnes)
		}
		if w1 == 0 {
			record(i, 1, ReasonAllZero)
		}
		if w1 == math.MaxUint64 {
			record(i, 1, ReasonAllOnes)
		}
	}

	if found != nil {
		return found
	}
	return nil
}
