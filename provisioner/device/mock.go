/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package device

import (
	"context"
	"fmt"
	"time"
)

// MockLifecycle is a lifecycle controller for testing.
type MockLifecycle struct {
	StateVal LifecycleState
	StateErr error
	Calls    int
}

// State returns the configured state.
func (m *MockLifecycle) State(_ context.Context) (LifecycleState, error) {
	m.Calls++
	if m.StateErr != nil {
		return StateInvalid, m.StateErr
	}
	return m.StateVal, nil
}

// MockOTP is an in-memory OTP controller for testing. It enforces
// write-after-lock rejection like the real controller.
type MockOTP struct {
	Partitions map[Partition][]byte
	Locked     map[Partition]bool

	WriteErr error
	LockErr  error

	DigestCalls int
	WriteCalls  int
	LockCalls   int
}

// NewMockOTP creates a MockOTP with empty partition images.
func NewMockOTP() *MockOTP {
	return &MockOTP{
		Partitions: make(map[Partition][]byte),
		Locked:     make(map[Partition]bool),
	}
}

// IsDigestComputed reports the lock state of the partition.
func (m *MockOTP) IsDigestComputed(_ context.Context, partition Partition) (bool, error) {
	m.DigestCalls++
	return m.Locked[partition], nil
}

// Write programs data into the partition image.
func (m *MockOTP) Write(_ context.Context, partition Partition, offset int, data []byte) error {
	m.WriteCalls++
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if m.Locked[partition] {
		return ErrPartitionLocked
	}
	img := m.Partitions[partition]
	if need := offset + len(data); need > len(img) {
		img = append(img, make([]byte, need-len(img))...)
	}
	copy(img[offset:], data)
	m.Partitions[partition] = img
	return nil
}

// LockPartition marks the partition digest as computed.
func (m *MockOTP) LockPartition(_ context.Context, partition Partition) error {
	m.LockCalls++
	if m.LockErr != nil {
		return m.LockErr
	}
	if m.Locked[partition] {
		return ErrPartitionLocked
	}
	m.Locked[partition] = true
	return nil
}

// MockFlash is an in-memory flash controller for testing.
type MockFlash struct {
	Pages map[uint32][]byte

	// ReadOverride, if set, is returned by Read instead of the page
	// content. Used to inject readback corruption.
	ReadOverride []byte

	SetupErr   error
	ProgramErr error
	ReadErr    error

	SetupCalls   int
	ProgramCalls int
	ReadCalls    int
}

// NewMockFlash creates a MockFlash with no programmed pages.
func NewMockFlash() *MockFlash {
	return &MockFlash{Pages: make(map[uint32][]byte)}
}

// SetupInfoRegion returns a synthetic page address.
func (m *MockFlash) SetupInfoRegion(_ context.Context, page InfoPage) (uint32, error) {
	m.SetupCalls++
	if m.SetupErr != nil {
		return 0, m.SetupErr
	}
	return page.Bank<<16 | page.Page<<8, nil
}

// EraseAndProgram stores data as the new page content.
func (m *MockFlash) EraseAndProgram(_ context.Context, address uint32, _ uint32, data []byte) error {
	m.ProgramCalls++
	if m.ProgramErr != nil {
		return m.ProgramErr
	}
	m.Pages[address] = append([]byte(nil), data...)
	return nil
}

// Read returns the page content, or the configured override.
func (m *MockFlash) Read(_ context.Context, address uint32, _ uint32, byteLen int, _ time.Duration) ([]byte, error) {
	m.ReadCalls++
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if m.ReadOverride != nil {
		return append([]byte(nil), m.ReadOverride...), nil
	}
	page := m.Pages[address]
	if byteLen > len(page) {
		return nil, fmt.Errorf("read of %d bytes exceeds page size %d", byteLen, len(page))
	}
	return append([]byte(nil), page[:byteLen]...), nil
}

// MockCSRNG is a CSRNG for testing. Generate pops from Out; if Out is
// exhausted, a deterministic non-degenerate pattern is returned.
type MockCSRNG struct {
	Out [][]byte

	InstantiateErr   error
	ReseedErr        error
	GenerateErr      error
	UninstantiateErr error

	InstantiateCalls   int
	ReseedCalls        int
	GenerateCalls      int
	UninstantiateCalls int

	instantiated bool
	fillCounter  byte
}

// Instantiate opens the mock session.
func (m *MockCSRNG) Instantiate(_ context.Context, _ bool, _ []byte) error {
	m.InstantiateCalls++
	if m.InstantiateErr != nil {
		return m.InstantiateErr
	}
	m.instantiated = true
	return nil
}

// Reseed records a reseed of the open session.
func (m *MockCSRNG) Reseed(_ context.Context, _ bool, _ []byte) error {
	m.ReseedCalls++
	if m.ReseedErr != nil {
		return m.ReseedErr
	}
	if !m.instantiated {
		return fmt.Errorf("csrng not instantiated")
	}
	return nil
}

// Generate returns the next configured output.
func (m *MockCSRNG) Generate(_ context.Context, _ []byte, byteLen int) ([]byte, error) {
	m.GenerateCalls++
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	if !m.instantiated {
		return nil, fmt.Errorf("csrng not instantiated")
	}
	if len(m.Out) > 0 {
		out := m.Out[0]
		m.Out = m.Out[1:]
		return append([]byte(nil), out...), nil
	}
	out := make([]byte, byteLen)
	for i := range out {
		m.fillCounter++
		if m.fillCounter == 0 || m.fillCounter == 0xFF {
			m.fillCounter = 1
		}
		out[i] = m.fillCounter
	}
	return out, nil
}

// Uninstantiate closes the mock session.
func (m *MockCSRNG) Uninstantiate(_ context.Context) error {
	m.UninstantiateCalls++
	if m.UninstantiateErr != nil {
		return m.UninstantiateErr
	}
	m.instantiated = false
	return nil
}

// Instantiated reports whether a session is currently open. Tests use this
// to verify session teardown on all exit paths.
func (m *MockCSRNG) Instantiated() bool {
	return m.instantiated
}

// MockEntropyComplex is an entropy complex for testing.
type MockEntropyComplex struct {
	InitErr   error
	InitCalls int
}

// Init records the initialization request.
func (m *MockEntropyComplex) Init(_ context.Context) error {
	m.InitCalls++
	return m.InitErr
}
