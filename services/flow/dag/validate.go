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
	"fmt"
	"slices"
	"strings"
)

// IssueType classifies a validation finding.
type IssueType string

const (
	// IssueMissingInput means the workflow has no nodes to run.
	IssueMissingInput IssueType = "missing-input"

	// IssueCycle means the edges have no valid linear order.
	IssueCycle IssueType = "cycle"

	// IssueFormat means an edge joins incompatible formats.
	IssueFormat IssueType = "format"

	// IssueMultipleInputs is advisory: more than one node has no parent.
	IssueMultipleInputs IssueType = "multiple-inputs"
)

// Issue is one validation error or warning.
type Issue struct {
	Type    IssueType `json:"type"`
	Message string    `json:"message"`

	// EdgeID, Source and Target are set for format issues.
	EdgeID string `json:"edge_id,omitempty"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`

	// NodeIDs lists the nodes involved in cycle and multiple-inputs issues.
	NodeIDs []string `json:"node_ids,omitempty"`
}

// Report is the outcome of ValidateWorkflow.
//
// IsValid is true iff Errors is empty. Warnings never affect it.
type Report struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// HasError reports whether an error of the given type was recorded.
func (r Report) HasError(t IssueType) bool {
	for _, e := range r.Errors {
		if e.Type == t {
			return true
		}
	}
	return false
}

// ConnectionResult is the outcome of ValidateConnection.
type ConnectionResult struct {
	Valid   bool   `json:"is_valid"`
	Message string `json:"message,omitempty"`
}

// ValidateConnection checks whether source's output can feed target.
//
// Description:
//
//	Valid iff target.AcceptedFormats contains source.OutputFormat as an exact
//	string. Used both before an edge is drawn and over existing edges.
func ValidateConnection(source, target Node) ConnectionResult {
	if slices.Contains(target.AcceptedFormats, source.OutputFormat) {
		return ConnectionResult{Valid: true}
	}
	return ConnectionResult{
		Valid: false,
		Message: fmt.Sprintf("output format %q of %s is not compatible with accepted formats [%s] of %s",
			source.OutputFormat, source.ID, strings.Join(target.AcceptedFormats, ", "), target.ID),
	}
}

// ValidateWorkflow runs the structural and semantic checks in order.
//
// Description:
//
//  1. No nodes: a single missing-input error and nothing else.
//  2. A cycle records a cycle error and skips the per-edge format checks,
//     since they are meaningless without an order.
//  3. Without a cycle, every incompatible edge adds a format error in edge order.
//  4. Always, more than one input node adds a multiple-inputs warning.
//
// Inputs:
//
//	nodes - Workflow nodes.
//	edges - Workflow edges. Edges whose endpoints are missing are skipped by
//	        the format check; CheckReferences reports them.
//
// Outputs:
//
//	Report - Ordered errors and warnings.
func ValidateWorkflow(nodes []Node, edges []Edge) Report {
	report := Report{
		Errors:   []Issue{},
		Warnings: []Issue{},
	}

	if len(nodes) == 0 {
		report.Errors = append(report.Errors, Issue{
			Type:    IssueMissingInput,
			Message: "workflow has no nodes",
		})
		return report
	}

	if _, ok := TopologicalSort(nodes, edges); !ok {
		remaining := unorderedNodes(nodes, edges)
		report.Errors = append(report.Errors, Issue{
			Type:    IssueCycle,
			Message: fmt.Sprintf("workflow contains a cycle among [%s]", strings.Join(remaining, ", ")),
			NodeIDs: remaining,
		})
	} else {
		idx := nodeIndex(nodes)
		for _, e := range edges {
			si, sok := idx[e.Source]
			ti, tok := idx[e.Target]
			if !sok || !tok {
				continue
			}
			if res := ValidateConnection(nodes[si], nodes[ti]); !res.Valid {
				report.Errors = append(report.Errors, Issue{
					Type:    IssueFormat,
					Message: res.Message,
					EdgeID:  e.ID,
					Source:  e.Source,
					Target:  e.Target,
				})
			}
		}
	}

	if inputs := InputNodes(nodes, edges); len(inputs) > 1 {
		ids := make([]string, len(inputs))
		for i, n := range inputs {
			ids[i] = n.ID
		}
		report.Warnings = append(report.Warnings, Issue{
			Type:    IssueMultipleInputs,
			Message: fmt.Sprintf("workflow has %d input nodes: [%s]", len(ids), strings.Join(ids, ", ")),
			NodeIDs: ids,
		})
	}

	report.IsValid = len(report.Errors) == 0
	return report
}
