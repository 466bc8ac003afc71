/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"github.com/edgelesssys/fuserun/cli/internal/rest"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const verifyDesc = `
This command confirms that the OTP partition lock is set on the device under
test. Run it after a hardware reset of the device: a lock that survives a
power cycle is the property manufacturing sign-off actually depends on.

On success the agent returns a signed sign-off record. Use --output to
archive it.
`

// NewVerifyCmd returns the verify command.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "verify",
		Short:        "Confirm the OTP partition lock after a device reset",
		Long:         verifyDesc,
		Args:         cobra.NoArgs,
		RunE:         runVerify,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("output", "o", "", "save the signed sign-off record to a file")

	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	writer, err := outputWriter(cmd, afero.NewOsFs())
	if err != nil {
		return err
	}
	return cliVerify(cmd, client, writer)
}

// cliVerify confirms the partition lock and optionally archives the signed
// sign-off record.
func cliVerify(cmd *cobra.Command, client poster, writer fileWriter) error {
	data, err := client.Post(cmd.Context(), rest.ProvisionVerifyEndpoint)
	if err != nil {
		return err
	}
	cmd.Printf("Device secrets are provisioned: %s\n", gjson.GetBytes(data, "outcome").String())

	if writer != nil {
		if err := writer.Write(data); err != nil {
			return err
		}
		cmd.Printf("Sign-off record written to %s\n", writer.Name())
	}
	return nil
}
