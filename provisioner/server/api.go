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

	"github.com/edgelesssys/fuserun/provisioner/core"
	"github.com/edgelesssys/fuserun/provisioner/escrow"
	"github.com/edgelesssys/fuserun/provisioner/lifecycle"
)

// API is the interface implementing the backend logic of the REST API.
type API interface {
	ProvisionStart(ctx context.Context) (core.Outcome, error)
	ProvisionEnd(ctx context.Context) (core.Outcome, []byte, error)
	GetStatus(ctx context.Context) (core.Status, error)
	ExportRMAToken(ctx context.Context) (*escrow.WrappedToken, error)
	SigningKey() ([]byte, error)
}

// GeneralResponse is a wrapper for all REST API responses following the
// JSend style: https://github.com/omniti-labs/jsend
type GeneralResponse struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"` // only used when status = "error"
}

// OutcomeResponse carries the terminal outcome of a pipeline entry point.
type OutcomeResponse struct {
	Outcome string `json:"outcome"`
}

// VerifyResponse carries the verification outcome together with the signed
// sign-off record and the key to verify it with.
type VerifyResponse struct {
	Outcome    string          `json:"outcome"`
	SignOff    string          `json:"signOff"`
	SigningKey json.RawMessage `json:"signingKey"`
}

type clientAPIServer struct {
	api API
}

// provisionHandler starts the provisioning pipeline.
func (s *clientAPIServer) provisionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowedHandler(w, r)
		return
	}
	outcome, err := s.api.ProvisionStart(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), provisionErrorCode(err))
		return
	}
	writeJSON(w, OutcomeResponse{Outcome: outcome.String()})
}

// provisionVerifyHandler confirms the partition lock after a reset.
func (s *clientAPIServer) provisionVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowedHandler(w, r)
		return
	}
	outcome, signOff, err := s.api.ProvisionEnd(r.Context())
	if err != nil {
		var verifyErr *core.VerifyError
		if errors.As(err, &verifyErr) {
			writeJSONFailure(w, OutcomeResponse{Outcome: outcome.String()}, http.StatusConflict)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	signingKey, err := s.api.SigningKey()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, VerifyResponse{
		Outcome:    outcome.String(),
		SignOff:    string(signOff),
		SigningKey: signingKey,
	})
}

// statusHandler reports the provisioning-relevant device state.
func (s *clientAPIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowedHandler(w, r)
		return
	}
	status, err := s.api.GetStatus(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

// rmaTokenHandler exports an escrowed RMA unlock token.
func (s *clientAPIServer) rmaTokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowedHandler(w, r)
		return
	}
	wrapped, err := s.api.ExportRMAToken(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, escrow.ErrEscrowDisabled) {
			code = http.StatusNotImplemented
		} else if isNotEligible(err) {
			code = http.StatusForbidden
		}
		writeJSONError(w, err.Error(), code)
		return
	}
	writeJSON(w, wrapped)
}

// provisionErrorCode maps a pipeline error onto an HTTP status code.
func provisionErrorCode(err error) int {
	if isNotEligible(err) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func isNotEligible(err error) bool {
	var notEligible *lifecycle.NotEligibleError
	return errors.As(err, &notEligible)
}

// writeJSON writes a JSend success response.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	dataToReturn := GeneralResponse{Status: "success", Data: v}
	if err := json.NewEncoder(w).Encode(dataToReturn); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSONError writes a JSend error response.
func writeJSONError(w http.ResponseWriter, errorString string, httpErrorCode int) {
	marshalledJSON, err := json.Marshal(GeneralResponse{Status: "error", Message: errorString})
	// Only fall back to non-JSON error when we cannot even marshal the error
	if err != nil {
		http.Error(w, errorString, httpErrorCode)
		return
	}
	http.Error(w, string(marshalledJSON), httpErrorCode)
}

// writeJSONFailure writes a JSend failure response.
func writeJSONFailure(w http.ResponseWriter, v interface{}, httpErrorCode int) {
	w.Header().Set("Content-Type", "application/json")
	dataToReturn := GeneralResponse{Status: "fail", Data: v}
	w.WriteHeader(httpErrorCode)
	if err := json.NewEncoder(w).Encode(dataToReturn); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// methodNotAllowedHandler returns a 405 Method Not Allowed error.
func methodNotAllowedHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONError(w, "", http.StatusMethodNotAllowed)
}
