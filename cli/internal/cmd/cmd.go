/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package cmd implements the fuserun CLI commands.
package cmd

import (
	"context"

	"github.com/edgelesssys/fuserun/cli/internal/file"
	"github.com/edgelesssys/fuserun/cli/internal/rest"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version is the CLI version.
var Version = "0.0.0" // Don't touch! Automatically injected at build-time.

// GitCommit is the git commit hash.
var GitCommit = "0000000000000000000000000000000000000000" // Don't touch! Automatically injected at build-time.

type getter interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

type rawGetter interface {
	GetRaw(ctx context.Context, path string) ([]byte, error)
}

type poster interface {
	Post(ctx context.Context, path string) ([]byte, error)
}

type fileWriter interface {
	Write(data []byte) error
	Name() string
}

// newClient creates a REST client for the agent given by the host flag.
func newClient(cmd *cobra.Command) (*rest.Client, error) {
	host, err := cmd.Flags().GetString("host")
	if err != nil {
		return nil, err
	}
	return rest.NewClient(host), nil
}

// outputWriter returns a file writer for the output flag, or nil if the flag
// is unset.
func outputWriter(cmd *cobra.Command, fs afero.Fs) (fileWriter, error) {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	if writer := file.New(fs, output); writer != nil {
		return writer, nil
	}
	return nil, nil
}
