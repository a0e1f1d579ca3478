// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the dag package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilRun is returned when a nil run is passed to the executor.
	ErrNilRun = errors.New("run must not be nil")

	// ErrDuplicateNode is returned when two nodes share an id.
	ErrDuplicateNode = errors.New("node with this id already exists")

	// ErrDuplicateEdge is returned when two edges share an id.
	ErrDuplicateEdge = errors.New("edge with this id already exists")

	// ErrNodeNotFound is returned when an edge references a node that doesn't exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrCycleDetected is returned when the workflow contains a cycle.
	ErrCycleDetected = errors.New("cycle detected in workflow")

	// ErrInvalidWorkflow is returned when validation reports errors.
	ErrInvalidWorkflow = errors.New("workflow is invalid")

	// ErrToolNotFound is returned when no adapter is registered for a node's tool.
	ErrToolNotFound = errors.New("tool adapter not found")

	// ErrNodeTimeout is returned when a node exceeds its timeout.
	ErrNodeTimeout = errors.New("node execution timed out")

	// ErrNodeFailed is returned when a tool adapter fails.
	ErrNodeFailed = errors.New("node execution failed")

	// ErrEmptyOutput is returned when a tool adapter succeeds without producing artifacts.
	ErrEmptyOutput = errors.New("tool adapter produced no output")

	// ErrRunFinished is returned when resuming a run that has nothing left to execute.
	ErrRunFinished = errors.New("run has no remaining nodes")

	// ErrCheckpointCorrupt is returned when a checkpoint fails verification.
	ErrCheckpointCorrupt = errors.New("checkpoint data is corrupt")

	// ErrCheckpointVersionMismatch is returned when checkpoint version is incompatible.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	NodeID string
	Err    error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(nodeID string, err error) *NodeError {
	return &NodeError{
		NodeID: nodeID,
		Err:    err,
	}
}

// CycleError reports which nodes could not be ordered.
//
// Kahn's algorithm does not yield a single cycle path; Remaining lists every node
// that was still blocked when the queue drained, in input order.
type CycleError struct {
	Remaining []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected among nodes [%s]", strings.Join(e.Remaining, ", "))
}

// Unwrap lets errors.Is match ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// NewCycleError creates a CycleError.
func NewCycleError(remaining []string) *CycleError {
	return &CycleError{Remaining: remaining}
}

// ValidationError carries the report of a workflow that failed validation.
type ValidationError struct {
	Report Report
}

// Error summarizes the first validation error.
func (e *ValidationError) Error() string {
	if len(e.Report.Errors) == 0 {
		return ErrInvalidWorkflow.Error()
	}
	first := e.Report.Errors[0]
	if len(e.Report.Errors) == 1 {
		return fmt.Sprintf("%v: %s: %s", ErrInvalidWorkflow, first.Type, first.Message)
	}
	return fmt.Sprintf("%v: %s: %s (and %d more)", ErrInvalidWorkflow, first.Type, first.Message, len(e.Report.Errors)-1)
}

// Unwrap lets errors.Is match ErrInvalidWorkflow.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidWorkflow
}
