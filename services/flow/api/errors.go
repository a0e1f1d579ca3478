// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianFlow/services/flow/cancel"
	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/runstore"
)

var (
	// ErrRunNotFound is returned when a run is neither active nor stored.
	ErrRunNotFound = errors.New("run not found")

	// ErrArtifactNotFound is returned for an unknown node or artifact index.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrNilRegistry is returned by NewService without a tool registry.
	ErrNilRegistry = errors.New("tool registry is required")
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidReferences = "INVALID_REFERENCES"
	CodeInvalidWorkflow   = "INVALID_WORKFLOW"
	CodeRunNotFound       = "RUN_NOT_FOUND"
	CodeArtifactNotFound  = "ARTIFACT_NOT_FOUND"
	CodeRunFinished       = "RUN_FINISHED"
	CodeRunActive         = "RUN_ACTIVE"
	CodeAlreadyCancelled  = "ALREADY_CANCELLED"
	CodeShuttingDown      = "SHUTTING_DOWN"
	CodeInternal          = "INTERNAL_ERROR"
)

// errorStatus maps a service error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var verr *dag.ValidationError
	var cerr *dag.CycleError
	switch {
	case errors.As(err, &verr), errors.As(err, &cerr):
		return http.StatusUnprocessableEntity, CodeInvalidWorkflow
	case errors.Is(err, dag.ErrInvalidInput),
		errors.Is(err, dag.ErrDuplicateNode),
		errors.Is(err, dag.ErrDuplicateEdge),
		errors.Is(err, dag.ErrNodeNotFound):
		return http.StatusBadRequest, CodeInvalidReferences
	case errors.Is(err, ErrRunNotFound),
		errors.Is(err, runstore.ErrNotFound),
		errors.Is(err, cancel.ErrRunNotFound):
		return http.StatusNotFound, CodeRunNotFound
	case errors.Is(err, ErrArtifactNotFound):
		return http.StatusNotFound, CodeArtifactNotFound
	case errors.Is(err, dag.ErrRunFinished):
		return http.StatusConflict, CodeRunFinished
	case errors.Is(err, cancel.ErrAlreadyRegistered):
		return http.StatusConflict, CodeRunActive
	case errors.Is(err, cancel.ErrAlreadyCancelled):
		return http.StatusConflict, CodeAlreadyCancelled
	case errors.Is(err, cancel.ErrControllerClosed):
		return http.StatusServiceUnavailable, CodeShuttingDown
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// errorResponse builds the body for err, attaching the validation report
// when there is one.
func errorResponse(err error) (int, ErrorResponse) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var verr *dag.ValidationError
	if errors.As(err, &verr) {
		report := verr.Report
		resp.Report = &report
	}
	return status, resp
}
