/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"github.com/edgelesssys/fuserun/cli/internal/rest"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const statusDesc = `
This command provides information about the device currently connected to
the provisioning agent: its lifecycle state and whether the target OTP
partition is already locked.
`

// NewStatusCmd returns the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show the provisioning status of the device under test",
		Long:         statusDesc,
		Args:         cobra.NoArgs,
		RunE:         runStatus,
		SilenceUsage: true,
	}
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	return cliStatus(cmd, client)
}

// cliStatus requests and prints the provisioning status of the device.
func cliStatus(cmd *cobra.Command, client getter) error {
	data, err := client.Get(cmd.Context(), rest.StatusEndpoint)
	if err != nil {
		return err
	}

	cmd.Printf("Profile:         %s\n", gjson.GetBytes(data, "profile").String())
	cmd.Printf("Lifecycle state: %s\n", gjson.GetBytes(data, "lifecycleState").String())
	cmd.Printf("Partition:       %s\n", gjson.GetBytes(data, "partition").String())
	cmd.Printf("Locked:          %t\n", gjson.GetBytes(data, "partitionLocked").Bool())
	return nil
}
