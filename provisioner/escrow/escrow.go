/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package escrow encrypts RMA unlock tokens to an offline transport key.
//
// The pipeline treats this as a black box over a byte buffer: a token goes
// in, an asymmetrically encrypted blob comes out, and the plaintext never
// leaves the process. The blob travels through the manufacturing database
// to the party operating the RMA flow, who holds the matching private key
// in an HSM.
//
// Scheme: a fresh 256-bit KEK wraps the token with AES-KWP (RFC 5649); the
// KEK itself is encrypted to the escrow RSA key with OAEP. This mirrors the
// key release transport of Azure Key Vault, in the wrapping direction.
package escrow

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/tink-crypto/tink-go/v2/kwp/subtle"
)

// AlgorithmRSAOAEPKWP identifies the RSA-OAEP-256 + AES-256-KWP scheme used
// by the HSM and fake backends.
const AlgorithmRSAOAEPKWP = "RSA-OAEP-256+A256KWP"

// ErrEscrowDisabled is returned by the stub backend.
var ErrEscrowDisabled = errors.New("token escrow is disabled")

// WrappedToken is the encrypted form of an RMA unlock token.
type WrappedToken struct {
	// KeyID identifies the escrow key the KEK is encrypted to.
	KeyID string `json:"keyId"`
	// Algorithm names the wrapping scheme.
	Algorithm string `json:"algorithm"`
	// WrappedKEK is the KEK, encrypted to the escrow key.
	WrappedKEK []byte `json:"wrappedKek"`
	// Ciphertext is the token, wrapped with the KEK.
	Ciphertext []byte `json:"ciphertext"`
	// WrappingJWK is the public escrow key as a JWK, so the receiving side
	// can pick the right private key without out-of-band bookkeeping.
	WrappingJWK json.RawMessage `json:"wrappingJwk,omitempty"`
}

// Escrower encrypts a token for escrow.
type Escrower interface {
	WrapToken(ctx context.Context, token []byte) (*WrappedToken, error)
}

// Stub is an Escrower that rejects every request. It is the default backend
// on lines that do not provision RMA tokens.
type Stub struct{}

// WrapToken returns ErrEscrowDisabled.
func (Stub) WrapToken(context.Context, []byte) (*WrappedToken, error) {
	return nil, ErrEscrowDisabled
}

// wrapToRSA performs the KWP + OAEP wrapping against a plain RSA public
// key.
func wrapToRSA(pub *rsa.PublicKey, keyID string, token []byte) (*WrappedToken, error) {
	kek := make([]byte, 32)
	if _, err := rand.Read(kek); err != nil {
		return nil, fmt.Errorf("generating KEK: %w", err)
	}
	defer func() {
		for i := range kek {
			kek[i] = 0
		}
	}()

	kwp, err := subtle.NewKWP(kek)
	if err != nil {
		return nil, fmt.Errorf("creating KWP: %w", err)
	}
	ciphertext, err := kwp.Wrap(token)
	if err != nil {
		return nil, fmt.Errorf("wrapping token: %w", err)
	}

	wrappedKEK, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, kek, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting KEK: %w", err)
	}

	jwkBytes, err := exportJWK(pub)
	if err != nil {
		return nil, err
	}

	return &WrappedToken{
		KeyID:       keyID,
		Algorithm:   AlgorithmRSAOAEPKWP,
		WrappedKEK:  wrappedKEK,
		Ciphertext:  ciphertext,
		WrappingJWK: jwkBytes,
	}, nil
}

// exportJWK serializes a public key as a JWK with an assigned key ID.
func exportJWK(pub any) (json.RawMessage, error) {
	jwKey, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("importing escrow key as jwk: %w", err)
	}
	if err := jwk.AssignKeyID(jwKey); err != nil {
		return nil, fmt.Errorf("assigning key ID to jwk: %w", err)
	}
	jwkBytes, err := json.Marshal(jwKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling jwk: %w", err)
	}
	return jwkBytes, nil
}

// Unwrap recovers a token from its wrapped form using the escrow private
// key. It lives here for the receiving side of the scheme and for tests;
// the provisioning agent itself never holds the private key.
func Unwrap(priv *rsa.PrivateKey, wrapped *WrappedToken) ([]byte, error) {
	if wrapped.Algorithm != AlgorithmRSAOAEPKWP {
		return nil, fmt.Errorf("unsupported algorithm %q", wrapped.Algorithm)
	}
	kek, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped.WrappedKEK, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting KEK: %w", err)
	}
	kwp, err := subtle.NewKWP(kek)
	if err != nil {
		return nil, fmt.Errorf("creating KWP: %w", err)
	}
	token, err := kwp.Unwrap(wrapped.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrapping token: %w", err)
	}
	return token, nil
}
