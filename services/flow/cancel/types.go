// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cancel manages the cancellation tokens of in-flight workflow runs.
//
// Each run registers under its id and receives a context.Context. Cancelling
// the run, or shutting the controller down, cancels that context with a
// Reason as its cause, which the executor reports as the cancellation
// message. Runs must be released when they finish.
package cancel

import (
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrControllerClosed is returned when operations are attempted on a closed controller.
	ErrControllerClosed = errors.New("cancellation controller is closed")

	// ErrRunNotFound is returned when a run id is not registered.
	ErrRunNotFound = errors.New("run not found")

	// ErrAlreadyRegistered is returned when a run id is registered twice.
	ErrAlreadyRegistered = errors.New("run already registered")

	// ErrAlreadyCancelled is returned when cancelling a run twice.
	ErrAlreadyCancelled = errors.New("run already cancelled")

	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// CancelType indicates why cancellation occurred.
type CancelType int

const (
	// CancelUser indicates user-initiated cancellation (API, Ctrl+C).
	CancelUser CancelType = iota

	// CancelTimeout indicates the run exceeded its deadline.
	CancelTimeout

	// CancelShutdown indicates the process is shutting down.
	CancelShutdown
)

// String returns the string representation of the cancel type.
func (t CancelType) String() string {
	switch t {
	case CancelUser:
		return "user"
	case CancelTimeout:
		return "timeout"
	case CancelShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a registered run.
type State int

const (
	// StateRunning indicates the run is in flight.
	StateRunning State = iota

	// StateCancelled indicates the run's token has fired.
	StateCancelled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Reason
// -----------------------------------------------------------------------------

// Reason describes why a run was cancelled.
//
// Reason implements error so it can be the cause of the run's context;
// context.Cause(ctx) returns it.
type Reason struct {
	// Type indicates the category of cancellation.
	Type CancelType

	// Message provides a human-readable description.
	Message string

	// Component identifies which component triggered the cancellation.
	Component string

	// Timestamp is when the cancellation was triggered.
	Timestamp time.Time
}

// Error renders the reason.
func (r *Reason) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("cancelled (%s)", r.Type)
	}
	return fmt.Sprintf("cancelled (%s): %s", r.Type, r.Message)
}

// UserReason is a convenience constructor for user cancellations.
func UserReason(message string) Reason {
	return Reason{Type: CancelUser, Message: message}
}

// Status is a snapshot of one registered run.
type Status struct {
	RunID     string        `json:"run_id"`
	State     string        `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}
