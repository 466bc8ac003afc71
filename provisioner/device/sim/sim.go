/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package sim implements a simulated device under test. It models the
// pieces of the hardware the pipeline can observe: lifecycle state, OTP
// secret partitions with permanent digest locks, flash info pages and a
// CSRNG with session semantics. State is persisted through afero, so
// reopening a Device on the same file system models a hardware reset: OTP
// and flash content survive, volatile state (the CSRNG session) does not.
package sim

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const stateFileName = "device_state.json"

const (
	// otpPartitionSize bounds writes into a simulated OTP partition.
	otpPartitionSize = 1024
	// flashPageSize bounds writes into a simulated flash info page.
	flashPageSize = 2048
)

type otpPartition struct {
	Image  []byte `json:"image"`
	Locked bool   `json:"locked"`
}

type persistentState struct {
	Lifecycle string                  `json:"lifecycle"`
	OTP       map[string]otpPartition `json:"otp"`
	Flash     map[string][]byte       `json:"flash"`
}

// Device is a simulated DUT. It implements all collaborator interfaces of
// the pipeline.
type Device struct {
	mux   sync.Mutex
	fs    afero.Afero
	dir   string
	state persistentState
	log   *zap.Logger

	// volatile
	rngInstantiated bool
	entropyFIPSMode bool
}

// New opens the simulated device backed by the given directory. If a state
// file exists it is loaded, otherwise a fresh device in the given lifecycle
// state is created.
func New(fs afero.Fs, dir string, initial device.LifecycleState, log *zap.Logger) (*Device, error) {
	d := &Device{
		fs:  afero.Afero{Fs: fs},
		dir: dir,
		log: log,
	}

	raw, err := d.fs.ReadFile(d.statePath())
	stateExists, _ := d.fs.Exists(d.statePath())
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &d.state); err != nil {
			return nil, fmt.Errorf("loading simulated device state: %w", err)
		}
		log.Info("Loaded simulated device state", zap.String("dir", dir),
			zap.String("lifecycle", d.state.Lifecycle))
	case !stateExists:
		d.state = persistentState{
			Lifecycle: initial.String(),
			OTP:       make(map[string]otpPartition),
			Flash:     make(map[string][]byte),
		}
		if err := d.persistLocked(); err != nil {
			return nil, err
		}
		log.Info("Created simulated device", zap.String("dir", dir),
			zap.String("lifecycle", initial.String()))
	default:
		return nil, fmt.Errorf("reading simulated device state: %w", err)
	}
	return d, nil
}

func (d *Device) statePath() string {
	return d.dir + "/" + stateFileName
}

func (d *Device) persistLocked() error {
	raw, err := json.Marshal(d.state)
	if err != nil {
		return err
	}
	if err := d.fs.MkdirAll(d.dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	if err := d.fs.WriteFile(d.statePath(), raw, 0o600); err != nil {
		return fmt.Errorf("persisting simulated device state: %w", err)
	}
	return nil
}

// State implements device.Lifecycle.
func (d *Device) State(_ context.Context) (device.LifecycleState, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	return device.ParseLifecycleState(d.state.Lifecycle)
}

// SetLifecycleState transitions the simulated device, standing in for the
// out-of-scope lifecycle controller transitions.
func (d *Device) SetLifecycleState(state device.LifecycleState) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.state.Lifecycle = state.String()
	return d.persistLocked()
}

// IsDigestComputed implements device.OTP.
func (d *Device) IsDigestComputed(_ context.Context, partition device.Partition) (bool, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.state.OTP[partition.String()].Locked, nil
}

// Write implements device.OTP. Writes into a locked partition are
// rejected, like the hardware direct access interface does.
func (d *Device) Write(_ context.Context, partition device.Partition, offset int, data []byte) error {
	d.mux.Lock()
	defer d.mux.Unlock()

	if offset < 0 || offset%8 != 0 || len(data)%8 != 0 {
		return fmt.Errorf("otp write must be 64-bit aligned (offset %d, %d bytes)", offset, len(data))
	}
	if offset+len(data) > otpPartitionSize {
		return fmt.Errorf("otp write of %d bytes at offset %d exceeds partition size %d", len(data), offset, otpPartitionSize)
	}

	p := d.state.OTP[partition.String()]
	if p.Locked {
		return device.ErrPartitionLocked
	}
	if need := offset + len(data); need > len(p.Image) {
		p.Image = append(p.Image, make([]byte, need-len(p.Image))...)
	}
	copy(p.Image[offset:], data)
	d.state.OTP[partition.String()] = p
	return d.persistLocked()
}

// LockPartition implements device.OTP. The lock is permanent: there is no
// way to clear it short of discarding the state directory.
func (d *Device) LockPartition(_ context.Context, partition device.Partition) error {
	d.mux.Lock()
	defer d.mux.Unlock()

	p := d.state.OTP[partition.String()]
	if p.Locked {
		return device.ErrPartitionLocked
	}
	p.Locked = true
	d.state.OTP[partition.String()] = p
	d.log.Info("Simulated OTP partition locked", zap.String("partition", partition.String()))
	return d.persistLocked()
}

// PartitionImage returns a copy of the partition image for test
// assertions.
func (d *Device) PartitionImage(partition device.Partition) []byte {
	d.mux.Lock()
	defer d.mux.Unlock()
	return append([]byte(nil), d.state.OTP[partition.String()].Image...)
}

// SetupInfoRegion implements device.Flash.
func (d *Device) SetupInfoRegion(_ context.Context, page device.InfoPage) (uint32, error) {
	return page.Bank<<16 | page.Page<<8, nil
}

// EraseAndProgram implements device.Flash.
func (d *Device) EraseAndProgram(_ context.Context, address uint32, _ uint32, data []byte) error {
	d.mux.Lock()
	defer d.mux.Unlock()

	if len(data) > flashPageSize {
		return fmt.Errorf("flash program of %d bytes exceeds page size %d", len(data), flashPageSize)
	}
	d.state.Flash[flashKey(address)] = append([]byte(nil), data...)
	return d.persistLocked()
}

// Read implements device.Flash.
func (d *Device) Read(_ context.Context, address uint32, _ uint32, byteLen int, delay time.Duration) ([]byte, error) {
	if delay > 0 {
		time.Sleep(delay)
	}
	d.mux.Lock()
	defer d.mux.Unlock()

	page, ok := d.state.Flash[flashKey(address)]
	if !ok || byteLen > len(page) {
		return nil, fmt.Errorf("flash read of %d bytes at address %#x exceeds programmed data", byteLen, address)
	}
	return append([]byte(nil), page[:byteLen]...), nil
}

func flashKey(address uint32) string {
	return fmt.Sprintf("%#x", address)
}

// Instantiate implements device.CSRNG.
func (d *Device) Instantiate(_ context.Context, _ bool, _ []byte) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.rngInstantiated {
		return fmt.Errorf("csrng already instantiated")
	}
	d.rngInstantiated = true
	return nil
}

// Reseed implements device.CSRNG.
func (d *Device) Reseed(_ context.Context, _ bool, _ []byte) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if !d.rngInstantiated {
		return fmt.Errorf("csrng not instantiated")
	}
	return nil
}

// Generate implements device.CSRNG.
func (d *Device) Generate(_ context.Context, _ []byte, byteLen int) ([]byte, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if !d.rngInstantiated {
		return nil, fmt.Errorf("csrng not instantiated")
	}
	if byteLen <= 0 || byteLen%4 != 0 {
		return nil, fmt.Errorf("generate length %d is not a positive multiple of 4", byteLen)
	}
	out := make([]byte, byteLen)
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Uninstantiate implements device.CSRNG.
func (d *Device) Uninstantiate(_ context.Context) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if !d.rngInstantiated {
		return fmt.Errorf("csrng not instantiated")
	}
	d.rngInstantiated = false
	return nil
}

// Init implements device.EntropyComplex.
func (d *Device) Init(_ context.Context) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.entropyFIPSMode = true
	return nil
}
