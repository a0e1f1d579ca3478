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

import "context"

// ProgressFunc receives progress reports from a tool adapter.
//
// percent is clamped to 0-100 by the executor. Reports arriving after the
// node has left StatusProcessing are dropped.
type ProgressFunc func(percent int, message string)

// Tool is the adapter contract for one document-processing operation.
//
// Description:
//
//	The engine never interprets what a tool does. It hands the tool the
//	collected input artifacts and the node's config, and stores whatever
//	artifacts come back. Implementations should honor ctx cancellation.
//
// Thread Safety:
//
//	A Tool may be shared by several runs and must be safe for concurrent use.
type Tool interface {
	// Run performs the operation.
	//
	// Inputs:
	//   ctx - Cancellation token for the run, possibly with a node timeout.
	//   inputs - Ordered input artifacts. Never nil.
	//   config - The node's configuration. May be nil.
	//   onProgress - Progress callback. Never nil.
	//
	// Outputs:
	//   []Artifact - At least one output artifact on success.
	//   error - Non-nil on failure; its message is recorded on the node.
	Run(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error)

// Run calls f.
func (f ToolFunc) Run(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error) {
	return f(ctx, inputs, config, onProgress)
}

// ToolResolver looks up the adapter for a node's ToolID.
type ToolResolver interface {
	Resolve(toolID string) (Tool, bool)
}

// ToolMap is the simplest ToolResolver: a fixed lookup table.
type ToolMap map[string]Tool

// Resolve returns the tool registered under toolID.
func (m ToolMap) Resolve(toolID string) (Tool, bool) {
	t, ok := m[toolID]
	return t, ok
}
