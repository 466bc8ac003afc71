/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package config defines the environment variables expected by the
// provisioning agent for configuration settings.
package config

const (
	// ClientAddr is the agent's address for the HTTP-REST server to listen on.
	ClientAddr = "EDG_PROVISIONER_CLIENT_ADDR"
	// ClientAddrDefault is the default client API address.
	ClientAddrDefault = "localhost:4433"

	// PromAddr is the address for the Prometheus metrics server to listen on.
	// Metrics are disabled if unset.
	PromAddr = "EDG_PROVISIONER_PROM_ADDR"

	// ProfilePath is the path of the device profile YAML file. The built-in
	// reference profile is used if unset.
	ProfilePath = "EDG_PROVISIONER_PROFILE"

	// StateDir is the directory holding the simulated device state.
	StateDir = "EDG_PROVISIONER_STATE_DIR"
	// StateDirDefault is the default simulated device state directory.
	StateDirDefault = "fuserun-dut"

	// LifecycleState is the lifecycle state a freshly created simulated
	// device starts in.
	LifecycleState = "EDG_PROVISIONER_LIFECYCLE_STATE"
	// LifecycleStateDefault is the default initial lifecycle state.
	LifecycleStateDefault = "PROD"

	// EscrowBackend selects the RMA token escrow backend: "off", "hsm" or
	// "akv".
	EscrowBackend = "EDG_PROVISIONER_ESCROW"
	// EscrowBackendDefault disables token escrow.
	EscrowBackendDefault = "off"

	// HSMModulePath is the path of the PKCS#11 module used by the hsm
	// escrow backend.
	HSMModulePath = "EDG_PROVISIONER_HSM_MODULE"
	// HSMTokenLabel is the PKCS#11 token label.
	HSMTokenLabel = "EDG_PROVISIONER_HSM_TOKEN"
	// HSMPin is the PKCS#11 user PIN.
	HSMPin = "EDG_PROVISIONER_HSM_PIN"
	// HSMKeyLabel is the label of the RSA escrow key pair.
	HSMKeyLabel = "EDG_PROVISIONER_HSM_KEY"

	// AKVVaultURL is the Azure Key Vault URL used by the akv escrow
	// backend.
	AKVVaultURL = "EDG_PROVISIONER_AKV_URL"
	// AKVKeyName is the Key Vault key name.
	AKVKeyName = "EDG_PROVISIONER_AKV_KEY"
	// AKVKeyVersion is the Key Vault key version; empty selects the
	// current version.
	AKVKeyVersion = "EDG_PROVISIONER_AKV_KEY_VERSION"

	// DevMode enables more verbose logging.
	DevMode = "EDG_PROVISIONER_DEV_MODE"
	// DevModeDefault is the default development mode setting.
	DevModeDefault = "0"
)
