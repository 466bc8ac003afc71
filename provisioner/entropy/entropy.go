/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package entropy manages CSRNG sessions for the provisioning pipeline.
//
// The hardware CSRNG follows an explicit instantiate/generate/uninstantiate
// lifecycle and only one session may be open at a time. WithSession scopes
// that lifecycle: the session is torn down on every exit path, so a failed
// pipeline stage can never leak an instantiated CSRNG to the next stage.
package entropy

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgelesssys/fuserun/provisioner/device"
)

// Error is a failure of a CSRNG operation. Entropy failures are fatal to the
// current pipeline run; the caller may retry the whole pipeline, which is
// idempotent up to the partition lock.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("csrng %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrSessionClosed is returned when a Session is used outside the closure it
// was handed to.
var ErrSessionClosed = errors.New("entropy session is closed")

// Session is an open CSRNG session. It is only valid inside the closure
// passed to WithSession.
type Session struct {
	rng  device.CSRNG
	open bool
}

// WithSession instantiates the CSRNG, runs fn with the open session and
// uninstantiates unconditionally. An uninstantiate failure is surfaced even
// if fn succeeded; if both fail, both errors are returned.
func WithSession(ctx context.Context, rng device.CSRNG, fn func(*Session) error) (err error) {
	if err := rng.Instantiate(ctx, false, nil); err != nil {
		return &Error{Op: "instantiate", Err: err}
	}
	session := &Session{rng: rng, open: true}
	defer func() {
		session.open = false
		if uninstErr := rng.Uninstantiate(ctx); uninstErr != nil {
			err = errors.Join(err, &Error{Op: "uninstantiate", Err: uninstErr})
		}
	}()
	return fn(session)
}

// Generate draws byteLen bytes from the session into a fresh secret Buffer.
// The caller owns the buffer and must Destroy it after use.
func (s *Session) Generate(ctx context.Context, byteLen int) (*Buffer, error) {
	if !s.open {
		return nil, &Error{Op: "generate", Err: ErrSessionClosed}
	}
	out, err := s.rng.Generate(ctx, nil, byteLen)
	if err != nil {
		return nil, &Error{Op: "generate", Err: err}
	}
	if len(out) != byteLen {
		return nil, &Error{Op: "generate", Err: fmt.Errorf("got %d bytes, requested %d", len(out), byteLen)}
	}
	buf := NewBuffer(byteLen)
	copy(buf.Bytes(), out)
	wipe(out)
	return buf, nil
}

// Reseed reseeds the session from the noise source. The pipeline reseeds
// between generating the two shares of a key pair so that a correlated
// CSRNG failure cannot produce related shares.
func (s *Session) Reseed(ctx context.Context) error {
	if !s.open {
		return &Error{Op: "reseed", Err: ErrSessionClosed}
	}
	if err := s.rng.Reseed(ctx, false, nil); err != nil {
		return &Error{Op: "reseed", Err: err}
	}
	return nil
}
