//go:build fakehsm

/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package escrow

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"go.uber.org/zap"
)

// HSMConfig configures the PKCS#11 escrow backend. The fake build ignores
// everything but the key label.
type HSMConfig struct {
	ModulePath string
	TokenLabel string
	PIN        string
	KeyLabel   string
}

// HSM is the fake HSM backend: an in-memory RSA key stands in for the
// PKCS#11 token. Only for development and CI.
type HSM struct {
	key      *rsa.PrivateKey
	keyLabel string
	log      *zap.Logger
}

// NewHSM generates an ephemeral in-memory escrow key.
func NewHSM(cfg HSMConfig, log *zap.Logger) (*HSM, error) {
	log.Warn("Binary was built with fake hsm. Using ephemeral in-memory escrow key")
	key, err := rsa.GenerateKey(rand.Reader, 3072)
	if err != nil {
		return nil, fmt.Errorf("generating fake escrow key: %w", err)
	}
	return &HSM{key: key, keyLabel: cfg.KeyLabel, log: log}, nil
}

// WrapToken encrypts the token to the ephemeral escrow key.
func (h *HSM) WrapToken(_ context.Context, token []byte) (*WrappedToken, error) {
	return wrapToRSA(&h.key.PublicKey, h.keyLabel, token)
}

// Close is a no-op for the fake backend.
func (h *HSM) Close() error {
	return nil
}

// PrivateKey exposes the ephemeral key so tests can unwrap.
func (h *HSM) PrivateKey() *rsa.PrivateKey {
	return h.key
}
