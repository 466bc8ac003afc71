/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package record produces the signed manufacturing sign-off record. The
// harness archives one record per device; its signature is what downstream
// consumers trust when they accept a device as provisioned.
package record

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// SignOff is the payload of a sign-off record.
type SignOff struct {
	RunID          string    `json:"runId"`
	Profile        string    `json:"profile"`
	LifecycleState string    `json:"lifecycleState"`
	Outcome        string    `json:"outcome"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	AgentVersion   string    `json:"agentVersion"`
}

// Signer signs sign-off records with an ECDSA P-256 key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner creates a Signer with the given key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// GenerateSigner creates a Signer with a fresh P-256 key. Used when the
// agent is not configured with a line signing key; the matching public key
// must then be collected from PublicJWK.
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign serializes the record and signs it as a compact JWS (ES256).
func (s *Signer) Sign(record SignOff) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshaling sign-off record: %w", err)
	}
	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256(), s.key))
	if err != nil {
		return nil, fmt.Errorf("signing sign-off record: %w", err)
	}
	return signed, nil
}

// PublicJWK returns the verification key as a JWK.
func (s *Signer) PublicJWK() (json.RawMessage, error) {
	jwKey, err := jwk.Import(&s.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("importing signing key as jwk: %w", err)
	}
	if err := jwk.AssignKeyID(jwKey); err != nil {
		return nil, fmt.Errorf("assigning key ID to jwk: %w", err)
	}
	return json.Marshal(jwKey)
}

// Verify checks the JWS against the given public key and returns the
// embedded record.
func Verify(signed []byte, pub *ecdsa.PublicKey) (*SignOff, error) {
	payload, err := jws.Verify(signed, jws.WithKey(jwa.ES256(), pub))
	if err != nil {
		return nil, fmt.Errorf("verifying sign-off record: %w", err)
	}
	var record SignOff
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling sign-off record: %w", err)
	}
	return &record, nil
}
