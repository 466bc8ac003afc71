/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/edgelesssys/fuserun/cli/internal/rest"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCliEventlog(t *testing.T) {
	eventlog := []byte(`[{"time":"2025-11-03T09:00:00Z","outcome":{"runId":"run-1","outcome":"Committed"}}]`)

	testCases := map[string]struct {
		getter   *stubGetter
		writer   *stubFileWriter
		wantErr  bool
		wantFile bool
	}{
		"print": {
			getter: &stubGetter{response: eventlog},
		},
		"save to file": {
			getter:   &stubGetter{response: eventlog},
			writer:   &stubFileWriter{name: "eventlog.json"},
			wantFile: true,
		},
		"get error": {
			getter:  &stubGetter{err: errors.New("failed")},
			wantErr: true,
		},
		"write error": {
			getter:  &stubGetter{response: eventlog},
			writer:  &stubFileWriter{err: errors.New("disk full")},
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			cmd := &cobra.Command{}
			var out bytes.Buffer
			cmd.SetOut(&out)

			var writer fileWriter
			if tc.writer != nil {
				writer = tc.writer
			}
			err := cliEventlog(cmd, tc.getter, writer)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(rest.EventLogEndpoint, tc.getter.requestPath)
			if tc.wantFile {
				assert.Equal(eventlog, tc.writer.out.Bytes())
				assert.Contains(out.String(), "eventlog.json")
			} else {
				assert.Contains(out.String(), "Committed")
			}
		})
	}
}
