/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgelesssys/fuserun/provisioner/core"
	"github.com/edgelesssys/fuserun/provisioner/device"
	"github.com/edgelesssys/fuserun/provisioner/escrow"
	"github.com/edgelesssys/fuserun/provisioner/events"
	"github.com/edgelesssys/fuserun/provisioner/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeAPI is a canned-answer API backend.
type fakeAPI struct {
	startOutcome core.Outcome
	startErr     error
	endOutcome   core.Outcome
	endSignOff   []byte
	endErr       error
	status       core.Status
	statusErr    error
	wrapped      *escrow.WrappedToken
	wrapErr      error
}

func (a *fakeAPI) ProvisionStart(context.Context) (core.Outcome, error) {
	return a.startOutcome, a.startErr
}

func (a *fakeAPI) ProvisionEnd(context.Context) (core.Outcome, []byte, error) {
	return a.endOutcome, a.endSignOff, a.endErr
}

func (a *fakeAPI) GetStatus(context.Context) (core.Status, error) {
	return a.status, a.statusErr
}

func (a *fakeAPI) ExportRMAToken(context.Context) (*escrow.WrappedToken, error) {
	return a.wrapped, a.wrapErr
}

func (a *fakeAPI) SigningKey() ([]byte, error) {
	return []byte(`{"kty":"EC"}`), nil
}

func serve(t *testing.T, api API, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := CreateServeMux(api, events.NewLog(), nil)
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestProvisionEndpoint(t *testing.T) {
	testCases := map[string]struct {
		api      *fakeAPI
		wantCode int
		wantJSON map[string]string
	}{
		"committed": {
			api:      &fakeAPI{startOutcome: core.OutcomeCommitted},
			wantCode: http.StatusOK,
			wantJSON: map[string]string{"status": "success", "data.outcome": "Committed"},
		},
		"skipped": {
			api:      &fakeAPI{startOutcome: core.OutcomeSkipped},
			wantCode: http.StatusOK,
			wantJSON: map[string]string{"status": "success", "data.outcome": "Skipped"},
		},
		"not eligible": {
			api: &fakeAPI{
				startOutcome: core.OutcomeFailed,
				startErr:     &lifecycle.NotEligibleError{State: device.StateScrap},
			},
			wantCode: http.StatusForbidden,
			wantJSON: map[string]string{"status": "error"},
		},
		"pipeline failure": {
			api: &fakeAPI{
				startOutcome: core.OutcomeFailed,
				startErr:     errors.New("otp write fault"),
			},
			wantCode: http.StatusInternalServerError,
			wantJSON: map[string]string{"status": "error", "message": "otp write fault"},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			w := serve(t, tc.api, http.MethodPost, ProvisionEndpoint)
			assert.Equal(tc.wantCode, w.Code)
			for path, want := range tc.wantJSON {
				assert.Equal(want, gjson.GetBytes(w.Body.Bytes(), path).String())
			}
		})
	}
}

func TestProvisionVerifyEndpoint(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{endOutcome: core.OutcomeCommitted, endSignOff: []byte("eyJ.signed.record")}
	w := serve(t, api, http.MethodPost, ProvisionVerifyEndpoint)
	assert.Equal(http.StatusOK, w.Code)
	body := w.Body.Bytes()
	assert.Equal("success", gjson.GetBytes(body, "status").String())
	assert.Equal("Committed", gjson.GetBytes(body, "data.outcome").String())
	assert.Equal("eyJ.signed.record", gjson.GetBytes(body, "data.signOff").String())
	assert.Equal("EC", gjson.GetBytes(body, "data.signingKey.kty").String())
}

func TestProvisionVerifyEndpointUnlocked(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{
		endOutcome: core.OutcomeFailed,
		endErr:     &core.VerifyError{Partition: device.PartitionSecret2},
	}
	w := serve(t, api, http.MethodPost, ProvisionVerifyEndpoint)
	assert.Equal(http.StatusConflict, w.Code)
	body := w.Body.Bytes()
	assert.Equal("fail", gjson.GetBytes(body, "status").String())
	assert.Equal("Failed", gjson.GetBytes(body, "data.outcome").String())
}

func TestStatusEndpoint(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	api := &fakeAPI{status: core.Status{
		Profile:         "reference",
		LifecycleState:  "PROD",
		Partition:       "SECRET2",
		PartitionLocked: true,
	}}
	w := serve(t, api, http.MethodGet, StatusEndpoint)
	require.Equal(http.StatusOK, w.Code)

	var resp GeneralResponse
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal("success", resp.Status)
	body := w.Body.Bytes()
	assert.Equal("reference", gjson.GetBytes(body, "data.profile").String())
	assert.True(gjson.GetBytes(body, "data.partitionLocked").Bool())
}

func TestRMATokenEndpoint(t *testing.T) {
	testCases := map[string]struct {
		api      *fakeAPI
		wantCode int
	}{
		"success": {
			api:      &fakeAPI{wrapped: &escrow.WrappedToken{KeyID: "escrow-key-1", Algorithm: escrow.AlgorithmRSAOAEPKWP}},
			wantCode: http.StatusOK,
		},
		"escrow disabled": {
			api:      &fakeAPI{wrapErr: escrow.ErrEscrowDisabled},
			wantCode: http.StatusNotImplemented,
		},
		"not eligible": {
			api:      &fakeAPI{wrapErr: &lifecycle.NotEligibleError{State: device.StateScrap}},
			wantCode: http.StatusForbidden,
		},
		"backend failure": {
			api:      &fakeAPI{wrapErr: errors.New("hsm unreachable")},
			wantCode: http.StatusInternalServerError,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			w := serve(t, tc.api, http.MethodPost, RMATokenEndpoint)
			assert.Equal(tc.wantCode, w.Code)
			if tc.wantCode == http.StatusOK {
				assert.Equal("escrow-key-1", gjson.GetBytes(w.Body.Bytes(), "data.keyId").String())
			}
		})
	}
}

func TestEventLogEndpoint(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	eventlog := events.NewLog()
	eventlog.Outcome("run-1", "Committed", nil)
	mux := CreateServeMux(&fakeAPI{}, eventlog, nil)

	req := httptest.NewRequest(http.MethodGet, EventLogEndpoint, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(http.StatusOK, w.Code)

	var logged []events.Event
	require.NoError(json.Unmarshal(w.Body.Bytes(), &logged))
	require.Len(logged, 1)
	assert.Equal("Committed", logged[0].Outcome.Outcome)
}

func TestMethodNotAllowed(t *testing.T) {
	testCases := map[string]struct {
		method string
		target string
	}{
		"GET provision":  {method: http.MethodGet, target: ProvisionEndpoint},
		"GET verify":     {method: http.MethodGet, target: ProvisionVerifyEndpoint},
		"POST status":    {method: http.MethodPost, target: StatusEndpoint},
		"GET rma-token":  {method: http.MethodGet, target: RMATokenEndpoint},
		"unknown path":   {method: http.MethodGet, target: "/nope"},
		"DELETE unknown": {method: http.MethodDelete, target: "/provision/extra"},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			w := serve(t, &fakeAPI{}, tc.method, tc.target)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

func TestInstrumentedMux(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	mux := CreateServeMux(&fakeAPI{startOutcome: core.OutcomeCommitted}, events.NewLog(), &factory)

	req := httptest.NewRequest(http.MethodPost, ProvisionEndpoint, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(http.StatusOK, w.Code)

	metrics, err := reg.Gather()
	require.NoError(err)

	found := false
	for _, family := range metrics {
		if family.GetName() == "provisioner_client_api_http_request_total" {
			found = true
		}
	}
	assert.True(found, "request counter must be registered per endpoint")
}
