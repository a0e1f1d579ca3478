// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag is the workflow engine behind Aleutian Flow.
//
// A workflow is a set of nodes, each bound to a document-processing tool,
// joined by directed edges that carry artifacts from one node to the next.
// The package provides:
//   - Graph construction and Kahn topological ordering seeded in node order
//   - Input, output, parent and child queries
//   - Format-compatibility checks per edge and whole-workflow validation
//   - Sequential execution with cooperative cancellation and progress
//   - Checkpoints for resuming a failed or cancelled run
//
// Tools are opaque adapters resolved by ToolID; the engine only moves
// artifacts between them.
//
// # Thread Safety
//
// The pure functions are safe for concurrent use. Run and Executor use
// internal locking.
//
// # Example
//
//	tools := dag.ToolMap{"merge": mergeTool, "compress": compressTool}
//	executor, err := dag.NewExecutor(tools, logger, dag.WithObserver(printEvent))
//	run, result, err := executor.Run(ctx, "merge-and-compress", nodes, edges)
//	if result.Success() {
//	    out, _ := run.Outputs("compress")
//	}
package dag
