/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package escrow

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/tink-crypto/tink-go/v2/kwp/subtle"
	"go.uber.org/zap"
)

// AlgorithmAKVKWP identifies the Key-Vault-assisted scheme: the KEK is
// encrypted by the vault key, the token is wrapped with AES-256-KWP.
const AlgorithmAKVKWP = "AKV-RSA-OAEP-256+A256KWP"

// AKV wraps tokens to an RSA key held in Azure Key Vault. The vault
// performs the OAEP operation, so the public key never needs to be
// exported; credentials come from the default Azure credential chain.
type AKV struct {
	client     *azkeys.Client
	keyName    string
	keyVersion string
	log        *zap.Logger
}

// NewAKV creates a Key Vault escrow backend for the given vault and key.
// An empty keyVersion selects the current key version.
func NewAKV(vaultURL, keyName, keyVersion string, log *zap.Logger) (*AKV, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}
	client, err := azkeys.NewClient(vaultURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Key Vault client: %w", err)
	}
	return &AKV{client: client, keyName: keyName, keyVersion: keyVersion, log: log}, nil
}

// WrapToken wraps the token with a fresh KEK and has the vault encrypt the
// KEK.
func (a *AKV) WrapToken(ctx context.Context, token []byte) (*WrappedToken, error) {
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

	a.log.Debug("Encrypting KEK with Key Vault key", zap.String("keyName", a.keyName))
	res, err := a.client.Encrypt(ctx, a.keyName, a.keyVersion, azkeys.KeyOperationParameters{
		Algorithm: toPtr(azkeys.EncryptionAlgorithmRSAOAEP256),
		Value:     kek,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting KEK with Key Vault key %q: %w", a.keyName, err)
	}

	keyID := a.keyName
	if res.KID != nil {
		keyID = string(*res.KID)
	}
	return &WrappedToken{
		KeyID:      keyID,
		Algorithm:  AlgorithmAKVKWP,
		WrappedKEK: res.Result,
		Ciphertext: ciphertext,
	}, nil
}

func toPtr[T any](v T) *T {
	return &v
}
