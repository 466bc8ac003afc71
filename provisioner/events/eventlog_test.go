/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package events

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	log := NewLog()
	log.Stage("run-1", "lifecycle gate", nil)
	log.Stage("run-1", "root key commit", errors.New("otp write fault"))
	log.Outcome("run-1", "Failed", errors.New("otp write fault"))

	logged := log.Events()
	require.Len(logged, 3)

	require.NotNil(logged[0].Stage)
	assert.Equal("run-1", logged[0].Stage.RunID)
	assert.Equal("lifecycle gate", logged[0].Stage.Stage)
	assert.Empty(logged[0].Stage.Error)

	require.NotNil(logged[1].Stage)
	assert.Equal("otp write fault", logged[1].Stage.Error)

	require.NotNil(logged[2].Outcome)
	assert.Equal("Failed", logged[2].Outcome.Outcome)
	assert.False(logged[2].Timestamp.IsZero())
}

func TestEventsReturnsSnapshot(t *testing.T) {
	assert := assert.New(t)

	log := NewLog()
	log.Stage("run-1", "lifecycle gate", nil)

	snapshot := log.Events()
	log.Stage("run-1", "entropy init", nil)
	assert.Len(snapshot, 1)
	assert.Len(log.Events(), 2)
}

func TestLogConcurrent(t *testing.T) {
	assert := assert.New(t)

	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 32; j++ {
				log.Stage("run", "stage", nil)
			}
		}()
	}
	wg.Wait()
	assert.Len(log.Events(), 16*32)
}

// brokenResponseWriter rejects every write, like a client that hung up.
type brokenResponseWriter struct {
	header http.Header
	status int
}

func (w *brokenResponseWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenResponseWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func (w *brokenResponseWriter) WriteHeader(status int) {
	w.status = status
}

func TestHandlerWriteFailure(t *testing.T) {
	assert := assert.New(t)

	log := NewLog()
	log.Stage("run-1", "lifecycle gate", nil)

	req := httptest.NewRequest(http.MethodGet, "/eventlog", nil)
	resp := &brokenResponseWriter{}
	log.Handler().ServeHTTP(resp, req)

	assert.Equal(http.StatusInternalServerError, resp.status)
}

func TestHandler(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	log := NewLog()
	log.Stage("run-1", "lifecycle gate", nil)
	log.Outcome("run-1", "Committed", nil)

	req := httptest.NewRequest(http.MethodGet, "/eventlog", nil)
	resp := httptest.NewRecorder()
	log.Handler().ServeHTTP(resp, req)

	require.Equal(http.StatusOK, resp.Code)
	assert.Equal("application/json", resp.Header().Get("Content-Type"))

	var logged []Event
	require.NoError(json.Unmarshal(resp.Body.Bytes(), &logged))
	require.Len(logged, 2)
	assert.Equal("Committed", logged[1].Outcome.Outcome)
}
