//go:build !fakehsm

/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package escrow

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/ThalesGroup/crypto11"
	"go.uber.org/zap"
)

// HSMConfig configures the PKCS#11 escrow backend.
type HSMConfig struct {
	// ModulePath is the path of the PKCS#11 module shared object.
	ModulePath string
	// TokenLabel selects the token within the module.
	TokenLabel string
	// PIN authenticates against the token.
	PIN string
	// KeyLabel is the label of the RSA escrow key pair on the token.
	KeyLabel string
}

// HSM wraps tokens to an RSA key held in a PKCS#11 HSM. Only the public
// half is used; the private key never leaves the token.
type HSM struct {
	ctx11    *crypto11.Context
	keyLabel string
	log      *zap.Logger
}

// NewHSM opens the PKCS#11 module and verifies the escrow key exists.
func NewHSM(cfg HSMConfig, log *zap.Logger) (*HSM, error) {
	ctx11, err := crypto11.Configure(&crypto11.Config{
		Path:       cfg.ModulePath,
		TokenLabel: cfg.TokenLabel,
		Pin:        cfg.PIN,
	})
	if err != nil {
		return nil, fmt.Errorf("opening PKCS#11 module: %w", err)
	}

	h := &HSM{ctx11: ctx11, keyLabel: cfg.KeyLabel, log: log}
	if _, err := h.publicKey(); err != nil {
		_ = ctx11.Close()
		return nil, err
	}
	return h, nil
}

// WrapToken encrypts the token to the HSM-held escrow key.
func (h *HSM) WrapToken(_ context.Context, token []byte) (*WrappedToken, error) {
	pub, err := h.publicKey()
	if err != nil {
		return nil, err
	}
	h.log.Debug("Wrapping token to HSM escrow key", zap.String("keyLabel", h.keyLabel))
	return wrapToRSA(pub, h.keyLabel, token)
}

// Close releases the PKCS#11 session.
func (h *HSM) Close() error {
	return h.ctx11.Close()
}

func (h *HSM) publicKey() (*rsa.PublicKey, error) {
	keyPair, err := h.ctx11.FindKeyPair(nil, []byte(h.keyLabel))
	if err != nil {
		return nil, fmt.Errorf("finding escrow key pair %q: %w", h.keyLabel, err)
	}
	if keyPair == nil {
		return nil, fmt.Errorf("escrow key pair %q not found on token", h.keyLabel)
	}
	pub, ok := keyPair.Public().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("escrow key %q is not an RSA key", h.keyLabel)
	}
	return pub, nil
}
