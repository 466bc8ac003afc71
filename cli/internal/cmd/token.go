/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"github.com/edgelesssys/fuserun/cli/internal/rest"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewTokenCmd returns the token command.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Export a wrapped RMA unlock token from the device",
		Long:         "Export a wrapped RMA unlock token from the device. The token is generated on the device and leaves it only under the configured escrow wrapping key.",
		Args:         cobra.NoArgs,
		RunE:         runToken,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("output", "o", "rma-token.json", "file to save the wrapped token to")

	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	writer, err := outputWriter(cmd, afero.NewOsFs())
	if err != nil {
		return err
	}
	return cliToken(cmd, client, writer)
}

// cliToken exports a wrapped RMA token and saves it.
func cliToken(cmd *cobra.Command, client poster, writer fileWriter) error {
	data, err := client.Post(cmd.Context(), rest.RMATokenEndpoint)
	if err != nil {
		return err
	}

	if writer != nil {
		if err := writer.Write(data); err != nil {
			return err
		}
		cmd.Printf("Wrapped token written to %s\n", writer.Name())
		return nil
	}
	cmd.Println(string(data))
	return nil
}
