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

// NewEventlogCmd returns the eventlog command.
func NewEventlogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "eventlog",
		Short:        "Fetch the event log of the provisioning agent",
		Long:         "Fetch the event log of the provisioning agent, one entry per pipeline stage and outcome.",
		Args:         cobra.NoArgs,
		RunE:         runEventlog,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("output", "o", "", "save the event log to a file instead of printing it")

	return cmd
}

func runEventlog(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	writer, err := outputWriter(cmd, afero.NewOsFs())
	if err != nil {
		return err
	}
	return cliEventlog(cmd, client, writer)
}

// cliEventlog fetches the event log and prints or saves it.
func cliEventlog(cmd *cobra.Command, client rawGetter, writer fileWriter) error {
	// The event log endpoint returns a plain JSON array, not a JSend
	// envelope.
	data, err := client.GetRaw(cmd.Context(), rest.EventLogEndpoint)
	if err != nil {
		return err
	}

	if writer != nil {
		if err := writer.Write(data); err != nil {
			return err
		}
		cmd.Printf("Event log written to %s\n", writer.Name())
		return nil
	}
	cmd.Println(string(data))
	return nil
}
