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
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/cancel"
	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/runstore"
)

// =============================================================================
// Requests
// =============================================================================

// WorkflowRequest carries a workflow in the body of validate, order and run
// requests. Node input files travel inline as base64 artifacts.
type WorkflowRequest struct {
	Name  string     `json:"name" binding:"max=128"`
	Nodes []dag.Node `json:"nodes" binding:"max=1000"`
	Edges []dag.Edge `json:"edges" binding:"max=10000"`
}

// ConnectionRequest asks whether Source's output can feed Target.
type ConnectionRequest struct {
	Source dag.Node `json:"source"`
	Target dag.Node `json:"target"`
}

// RunRequest starts an asynchronous run.
type RunRequest struct {
	WorkflowRequest

	// TimeoutSeconds bounds the whole run. Zero uses the server default.
	TimeoutSeconds int `json:"timeout_seconds" binding:"gte=0,lte=86400"`
}

// CancelRequest optionally explains a cancellation.
type CancelRequest struct {
	Message string `json:"message" binding:"max=512"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Report is set when a workflow failed validation.
	Report *dag.Report `json:"report,omitempty"`
}

// OrderResponse is the result of POST /order.
type OrderResponse struct {
	// Order is the execution order, or null when the workflow is cyclic.
	Order   []string `json:"order"`
	Acyclic bool     `json:"acyclic"`
}

// ToolsResponse lists the registered tools.
type ToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolInfo describes one tool.
type ToolInfo struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	AcceptedFormats []string `json:"accepted_formats"`
	OutputFormat    string   `json:"output_format,omitempty"`
}

// RunStartedResponse is returned by POST /runs and POST /runs/:id/resume.
type RunStartedResponse struct {
	RunID  string      `json:"run_id"`
	Report *dag.Report `json:"report,omitempty"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Active []cancel.Status     `json:"active"`
	Stored []runstore.Summary `json:"stored"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
	Tools      int    `json:"tools"`
}

// =============================================================================
// Run views
// =============================================================================

// ArtifactInfo describes an artifact without its payload.
type ArtifactInfo struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size"`
}

// NodeView is the state of one node.
type NodeView struct {
	ID           string         `json:"id"`
	ToolID       string         `json:"tool_id"`
	OutputFormat string         `json:"output_format"`
	Status       dag.NodeStatus `json:"status"`
	Progress     int            `json:"progress"`
	Error        string         `json:"error,omitempty"`
}

// RunView is the JSON view of a run. Artifact payloads are fetched
// separately from GET /runs/:id/artifacts/:node/:index.
type RunView struct {
	RunID      string                    `json:"run_id"`
	Name       string                    `json:"name"`
	Active     bool                      `json:"active"`
	Outcome    dag.Outcome               `json:"outcome"`
	Progress   int                       `json:"progress"`
	FailedNode string                    `json:"failed_node,omitempty"`
	Error      string                    `json:"error,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Nodes      []NodeView                `json:"nodes"`
	Edges      []dag.Edge                `json:"edges"`
	Outputs    map[string][]ArtifactInfo `json:"outputs"`
}

func newRunView(snap dag.Snapshot, active bool) RunView {
	v := RunView{
		RunID:      snap.RunID,
		Name:       snap.Name,
		Active:     active,
		Outcome:    snap.Outcome,
		Progress:   snap.Progress,
		FailedNode: snap.FailedNode,
		Error:      snap.Error,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
		Nodes:      make([]NodeView, 0, len(snap.Nodes)),
		Edges:      snap.Edges,
		Outputs:    make(map[string][]ArtifactInfo, len(snap.Outputs)),
	}
	if v.Edges == nil {
		v.Edges = []dag.Edge{}
	}
	for _, n := range snap.Nodes {
		v.Nodes = append(v.Nodes, NodeView{
			ID:           n.ID,
			ToolID:       n.ToolID,
			OutputFormat: n.OutputFormat,
			Status:       n.Status,
			Progress:     n.Progress,
			Error:        n.Error,
		})
	}
	for id, arts := range snap.Outputs {
		infos := make([]ArtifactInfo, 0, len(arts))
		for i, a := range arts {
			info := ArtifactInfo{Index: i, Kind: dag.ArtifactKindBlob, Size: len(a.Bytes())}
			if named, ok := a.(dag.NamedArtifact); ok {
				info.Kind = dag.ArtifactKindNamed
				info.Filename = named.Filename
			}
			infos = append(infos, info)
		}
		v.Outputs[id] = infos
	}
	return v
}

// StreamMessage is one frame on the events websocket. The first frame is a
// "snapshot", followed by "event" frames, and a final "snapshot" once the
// run ends.
type StreamMessage struct {
	Type  string     `json:"type"`
	Run   *RunView   `json:"run,omitempty"`
	Event *dag.Event `json:"event,omitempty"`
}

// Stream message types.
const (
	StreamSnapshot = "snapshot"
	StreamEvent    = "event"
)
