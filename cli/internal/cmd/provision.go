/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgelesssys/fuserun/cli/internal/rest"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const provisionDesc = `
This command runs the full provisioning pipeline on the device under test:
creator and owner secret seeds are written to flash, two root key shares are
committed to the OTP secret partition, and the partition is permanently
locked.

The pipeline is idempotent: on an already provisioned device the agent
reports the outcome "Skipped" without touching the device. Transient
failures (e.g. of the entropy source) are retried by re-running the whole
pipeline, which is safe up to the partition lock.
`

// NewProvisionCmd returns the provision command.
func NewProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "provision",
		Short:        "Run the device secret provisioning pipeline",
		Long:         provisionDesc,
		Args:         cobra.NoArgs,
		RunE:         runProvision,
		SilenceUsage: true,
	}

	cmd.Flags().Uint64("retries", 2, "number of times a failed pipeline run is retried")
	cmd.Flags().String("lockfile", "", "lock file guarding exclusive access to the device (default <temp>/fuserun-<host>.lock)")

	return cmd
}

func runProvision(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	retries, err := cmd.Flags().GetUint64("retries")
	if err != nil {
		return err
	}
	lockfile, err := cmd.Flags().GetString("lockfile")
	if err != nil {
		return err
	}
	host, err := cmd.Flags().GetString("host")
	if err != nil {
		return err
	}
	if lockfile == "" {
		lockfile = defaultLockfile(host)
	}

	// There is exactly one manufacturing agent per physical device. The
	// lock file enforces that on the host side so two operators cannot
	// race each other into a half-provisioned device.
	fileLock := flock.New(lockfile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring device lock %s: %w", lockfile, err)
	}
	if !locked {
		return fmt.Errorf("another provisioning run holds %s", lockfile)
	}
	defer fileLock.Unlock()

	return cliProvision(cmd, client, retries)
}

// cliProvision runs the pipeline, retrying retryable failures with
// exponential backoff.
func cliProvision(cmd *cobra.Command, client poster, retries uint64) error {
	provision := func() error {
		data, err := client.Post(cmd.Context(), rest.ProvisionEndpoint)
		if err != nil {
			var restErr *rest.Error
			if errors.As(err, &restErr) && !restErr.Retryable() {
				return backoff.Permanent(err)
			}
			cmd.PrintErrf("Pipeline run failed: %v\n", err)
			return err
		}
		cmd.Printf("Device provisioning finished: %s\n", gjson.GetBytes(data, "outcome").String())
		return nil
	}

	return backoff.Retry(provision, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries))
}

func defaultLockfile(host string) string {
	name := strings.NewReplacer(":", "-", "/", "-").Replace(host)
	return filepath.Join(os.TempDir(), "fuserun-"+name+".lock")
}
