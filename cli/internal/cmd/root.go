/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"github.com/spf13/cobra"
)

// Execute starts the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd returns the root command of the CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fuserun",
		Short: "Provision silicon root-of-trust device secrets",
		Long: `The fuserun CLI talks to a provisioning agent on the manufacturing test
host and drives the device-secret provisioning pipeline: secret seeds in
flash info pages, root key shares in OTP, and the permanent partition lock.`,
	}

	rootCmd.PersistentFlags().String("host", "localhost:4433", "address of the provisioning agent")

	rootCmd.AddCommand(NewProvisionCmd())
	rootCmd.AddCommand(NewVerifyCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewEventlogCmd())
	rootCmd.AddCommand(NewTokenCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
