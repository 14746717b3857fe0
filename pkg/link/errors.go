// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Specklight Instruments

package link

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs an open channel
	// and there is none.
	ErrNotConnected = errors.New("not connected to a device")

	// ErrTargetRange is returned by SendTarget for targets outside the
	// 12-bit DAC range. Nothing is written to the channel.
	ErrTargetRange = errors.New("target current out of range (0-4095)")

	// ErrNoFrame is returned by PollFeedback when no complete feedback
	// frame is available yet.
	ErrNoFrame = errors.New("no feedback frame available")
)

// ConnectError reports that every candidate port failed for every allowed
// attempt. It is fatal to the caller; the manager will not retry further
// on its own.
type ConnectError struct {
	Ports    []string
	Attempts int
	LastErr  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not open any of %v after %d attempts: %v", e.Ports, e.Attempts, e.LastErr)
}

func (e *ConnectError) Unwrap() error {
	return e.LastErr
}

// WriteError reports a failed serial write, usually a device unplugged
// mid-session. The channel is invalid afterwards; the caller decides
// whether to Connect again.
type WriteError struct {
	Port string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to %s failed: %v", e.Port, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
