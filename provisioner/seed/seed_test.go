/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package seed

import (
	"bytes"
	"errors"
	"testing"

	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testPage = device.InfoPage{Page: 1, Bank: 0, PartitionID: 0}

func TestWrite(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	flash := device.NewMockFlash()
	rng := &device.MockCSRNG{}
	writer := NewWriter(flash, rng, zaptest.NewLogger(t))

	require.NoError(writer.Write(t.Context(), testPage, 32))

	// The seed must land in the page the flash controller mapped.
	address := testPage.Bank<<16 | testPage.Page<<8
	programmed := flash.Pages[address]
	require.Len(programmed, 32)
	assert.False(bytes.Equal(programmed, make([]byte, 32)))

	assert.Equal(1, flash.SetupCalls)
	assert.Equal(1, flash.ProgramCalls)
	assert.Equal(1, flash.ReadCalls)
	assert.False(rng.Instantiated(), "entropy session must not outlive seed generation")
}

func TestWriteReadbackCorruption(t *testing.T) {
	testCases := map[string]struct {
		corrupt func(programmed []byte) []byte
		reason  Reason
	}{
		"all-zero readback": {
			corrupt: func(programmed []byte) []byte {
				return make([]byte, len(programmed))
			},
			reason: ReasonMismatch,
		},
		"all-ones readback": {
			corrupt: func(programmed []byte) []byte {
				out := make([]byte, len(programmed))
				for i := range out {
					out[i] = 0xFF
				}
				return out
			},
			reason: ReasonMismatch,
		},
		"single flipped bit": {
			corrupt: func(programmed []byte) []byte {
				out := append([]byte(nil), programmed...)
				out[17] ^= 0x01
				return out
			},
			reason: ReasonMismatch,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			flash := device.NewMockFlash()
			rng := &device.MockCSRNG{}
			writer := NewWriter(flash, rng, zaptest.NewLogger(t))

			// Program once to learn the generated content, then replay with
			// corrupted readback.
			require.NoError(writer.Write(t.Context(), testPage, 32))
			address := testPage.Bank<<16 | testPage.Page<<8
			flash.ReadOverride = tc.corrupt(flash.Pages[address])

			err := writer.Write(t.Context(), testPage, 32)
			var writeErr *WriteError
			require.ErrorAs(err, &writeErr)
			assert.Equal(tc.reason, writeErr.Reason)
			assert.Equal(testPage, writeErr.Page)
		})
	}
}

func TestWriteDegenerateEntropy(t *testing.T) {
	testCases := map[string]struct {
		seed     []byte
		wantWord int
	}{
		"all-zero word": {
			seed:     degenerateSeed(32, 3, 0x00),
			wantWord: 3,
		},
		"all-ones word": {
			seed:     degenerateSeed(32, 5, 0xFF),
			wantWord: 5,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			flash := device.NewMockFlash()
			rng := &device.MockCSRNG{Out: [][]byte{tc.seed}}
			writer := NewWriter(flash, rng, zaptest.NewLogger(t))

			err := writer.Write(t.Context(), testPage, 32)
			var writeErr *WriteError
			require.ErrorAs(err, &writeErr)
			assert.Equal(ReasonDegenerateWord, writeErr.Reason)
			assert.Equal(tc.wantWord, writeErr.Word)
		})
	}
}

func TestWriteFlashErrors(t *testing.T) {
	someErr := errors.New("flash fault")

	testCases := map[string]struct {
		configure func(*device.MockFlash)
	}{
		"setup fails":   {configure: func(f *device.MockFlash) { f.SetupErr = someErr }},
		"program fails": {configure: func(f *device.MockFlash) { f.ProgramErr = someErr }},
		"read fails":    {configure: func(f *device.MockFlash) { f.ReadErr = someErr }},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			flash := device.NewMockFlash()
			tc.configure(flash)
			rng := &device.MockCSRNG{}
			writer := NewWriter(flash, rng, zaptest.NewLogger(t))

			err := writer.Write(t.Context(), testPage, 32)
			assert.ErrorIs(err, someErr)
			assert.False(rng.Instantiated())
		})
	}
}

func TestWriteEntropyErrors(t *testing.T) {
	someErr := errors.New("csrng fault")

	testCases := map[string]struct {
		configure func(*device.MockCSRNG)
	}{
		"generate fails":      {configure: func(r *device.MockCSRNG) { r.GenerateErr = someErr }},
		"uninstantiate fails": {configure: func(r *device.MockCSRNG) { r.UninstantiateErr = someErr }},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			flash := device.NewMockFlash()
			rng := &device.MockCSRNG{}
			tc.configure(rng)
			writer := NewWriter(flash, rng, zaptest.NewLogger(t))

			err := writer.Write(t.Context(), testPage, 32)
			assert.ErrorIs(err, someErr)
			// The seed must not reach flash when the session failed, even
			// if generation itself succeeded.
			assert.Equal(0, flash.SetupCalls)
			assert.Equal(0, flash.ProgramCalls)
		})
	}
}

func TestWriteLength(t *testing.T) {
	assert := assert.New(t)

	writer := NewWriter(device.NewMockFlash(), &device.MockCSRNG{}, zaptest.NewLogger(t))
	assert.Error(writer.Write(t.Context(), testPage, 0))
	assert.Error(writer.Write(t.Context(), testPage, 30))
}

// degenerateSeed returns byteLen bytes of plausible entropy with the given
// 32-bit word forced to fill.
func degenerateSeed(byteLen, word int, fill byte) []byte {
	out := make([]byte, byteLen)
	for i := range out {
		out[i] = byte(i + 1)
	}
	for i := 4 * word; i < 4*word+4; i++ {
		out[i] = fill
	}
	return out
}
