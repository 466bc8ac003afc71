/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package events implements a log of provisioning events. The manufacturing
// harness scrapes the log after each device to attribute failures to a
// pipeline stage.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// StageEvent is logged when a pipeline stage starts or finishes.
type StageEvent struct {
	RunID string `json:"runId"`
	Stage string `json:"stage"`
	Error string `json:"error,omitempty"`
}

// OutcomeEvent is logged when a pipeline run terminates.
type OutcomeEvent struct {
	RunID   string `json:"runId"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Event represents a single event in the event log.
type Event struct {
	Timestamp time.Time     `json:"time"`
	Stage     *StageEvent   `json:"stage,omitempty"`
	Outcome   *OutcomeEvent `json:"outcome,omitempty"`
}

// Log is a log of provisioning events.
type Log struct {
	mux    sync.Mutex
	events []Event
}

// NewLog creates a new log.
func NewLog() *Log {
	return &Log{}
}

// Stage adds a stage event to the log. A non-nil err marks the stage as
// failed.
func (l *Log) Stage(runID, stage string, err error) {
	event := &StageEvent{RunID: runID, Stage: stage}
	if err != nil {
		event.Error = err.Error()
	}
	l.append(Event{Timestamp: time.Now(), Stage: event})
}

// Outcome adds a terminal outcome event to the log.
func (l *Log) Outcome(runID, outcome string, err error) {
	event := &OutcomeEvent{RunID: runID, Outcome: outcome}
	if err != nil {
		event.Error = err.Error()
	}
	l.append(Event{Timestamp: time.Now(), Outcome: event})
}

// Events returns a snapshot of the logged events.
func (l *Log) Events() []Event {
	l.mux.Lock()
	defer l.mux.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *Log) append(event Event) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.events = append(l.events, event)
}

// Handler returns a http.HandlerFunc which writes the log as JSON array.
func (l *Log) Handler() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(l.Events()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
