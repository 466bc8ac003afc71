/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package profile defines the device profile: the per-silicon layout and
// policy values the pipeline is parameterized with. Profiles are YAML files
// checked into the manufacturing configuration repository; unknown fields
// are rejected so a typo cannot silently fall back to a default.
package profile

import (
	"bytes"
	"fmt"

	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/edgelesssys/fuserun/provisioner/fuse"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Profile describes one device family.
type Profile struct {
	// Name identifies the profile in records and logs.
	Name string `yaml:"name"`
	// EligibleStates are the lifecycle states in which provisioning may
	// run.
	EligibleStates []string `yaml:"eligibleStates"`
	// RootKey is the OTP layout of the root key shares.
	RootKey RootKey `yaml:"rootKey"`
	// Flash is the flash info page layout of the secret seeds.
	Flash Flash `yaml:"flash"`
}

// RootKey locates the root key shares inside an OTP secret partition.
// Offsets are bytes relative to the partition start.
type RootKey struct {
	Partition    string `yaml:"partition"`
	Share0Offset int    `yaml:"share0Offset"`
	Share1Offset int    `yaml:"share1Offset"`
	ShareBytes   int    `yaml:"shareBytes"`
}

// Flash locates the creator and owner seed pages.
type Flash struct {
	PartitionID     uint32 `yaml:"partitionId"`
	BankID          uint32 `yaml:"bankId"`
	CreatorSeedPage uint32 `yaml:"creatorSeedPage"`
	OwnerSeedPage   uint32 `yaml:"ownerSeedPage"`
	SeedBytes       int    `yaml:"seedBytes"`
}

// Default returns the profile of the reference device: 256-bit root key
// shares behind the RMA token in SECRET2, 32-byte seeds in info pages 1
// and 2 of bank 0.
func Default() *Profile {
	return &Profile{
		Name:           "reference",
		EligibleStates: []string{"DEV", "PROD", "PROD_END", "RMA"},
		RootKey: RootKey{
			Partition:    "SECRET2",
			Share0Offset: 16,
			Share1Offset: 48,
			ShareBytes:   32,
		},
		Flash: Flash{
			PartitionID:     0,
			BankID:          0,
			CreatorSeedPage: 1,
			OwnerSeedPage:   2,
			SeedBytes:       32,
		},
	}
}

// Load reads and validates a profile from the given file.
func Load(fs afero.Fs, path string) (*Profile, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading device profile: %w", err)
	}
	return Parse(raw)
}

// Parse parses and validates a YAML profile. Unknown fields are an error.
func Parse(raw []byte) (*Profile, error) {
	var p Profile
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing device profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the profile for internal consistency.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if len(p.EligibleStates) == 0 {
		return fmt.Errorf("profile %s: eligibleStates must not be empty", p.Name)
	}
	if _, err := p.States(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	if _, err := p.Partition(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	if p.RootKey.ShareBytes <= 0 || p.RootKey.ShareBytes%8 != 0 {
		return fmt.Errorf("profile %s: shareBytes %d is not a positive multiple of 8", p.Name, p.RootKey.ShareBytes)
	}
	if p.RootKey.Share0Offset < 0 || p.RootKey.Share0Offset%8 != 0 ||
		p.RootKey.Share1Offset < 0 || p.RootKey.Share1Offset%8 != 0 {
		return fmt.Errorf("profile %s: share offsets must be non-negative and 64-bit aligned", p.Name)
	}
	lo, hi := p.RootKey.Share0Offset, p.RootKey.Share1Offset
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo+p.RootKey.ShareBytes > hi {
		return fmt.Errorf("profile %s: share regions overlap", p.Name)
	}
	if p.Flash.SeedBytes <= 0 || p.Flash.SeedBytes%4 != 0 {
		return fmt.Errorf("profile %s: seedBytes %d is not a positive multiple of 4", p.Name, p.Flash.SeedBytes)
	}
	if p.Flash.CreatorSeedPage == p.Flash.OwnerSeedPage {
		return fmt.Errorf("profile %s: creator and owner seed pages must differ", p.Name)
	}
	return nil
}

// States returns the parsed eligible lifecycle states.
func (p *Profile) States() ([]device.LifecycleState, error) {
	states := make([]device.LifecycleState, 0, len(p.EligibleStates))
	for _, name := range p.EligibleStates {
		state, err := device.ParseLifecycleState(name)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// Partition returns the parsed target OTP partition.
func (p *Profile) Partition() (device.Partition, error) {
	switch p.RootKey.Partition {
	case "SECRET0":
		return device.PartitionSecret0, nil
	case "SECRET1":
		return device.PartitionSecret1, nil
	case "SECRET2":
		return device.PartitionSecret2, nil
	}
	return 0, fmt.Errorf("unknown OTP partition %q", p.RootKey.Partition)
}

// Layout returns the root key share layout for the fuse committer.
func (p *Profile) Layout() (fuse.Layout, error) {
	partition, err := p.Partition()
	if err != nil {
		return fuse.Layout{}, err
	}
	return fuse.Layout{
		Partition:    partition,
		Share0Offset: p.RootKey.Share0Offset,
		Share1Offset: p.RootKey.Share1Offset,
		ShareBytes:   p.RootKey.ShareBytes,
	}, nil
}

// CreatorSeedPage returns the flash info page of the creator seed.
func (p *Profile) CreatorSeedPage() device.InfoPage {
	return device.InfoPage{
		Page:        p.Flash.CreatorSeedPage,
		Bank:        p.Flash.BankID,
		PartitionID: p.Flash.PartitionID,
	}
}

// OwnerSeedPage returns the flash info page of the owner seed.
func (p *Profile) OwnerSeedPage() device.InfoPage {
	return device.InfoPage{
		Page:        p.Flash.OwnerSeedPage,
		Bank:        p.Flash.BankID,
		PartitionID: p.Flash.PartitionID,
	}
}
