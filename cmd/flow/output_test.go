// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

func machinePrinter() (*ux.Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return ux.NewPrinter(&out, &errOut, ux.PersonalityMachine), &out, &errOut
}

func TestRenderReport(t *testing.T) {
	p, out, errOut := machinePrinter()
	renderReport(p, "wf", dag.Report{
		IsValid: false,
		Errors:  []dag.Issue{{Type: dag.IssueCycle, Message: "a -> b -> a"}},
		Warnings: []dag.Issue{
			{Type: dag.IssueMultipleInputs, Message: "2 roots"},
		},
	})
	assert.Contains(t, out.String(), "error\tcycle\ta -> b -> a\n")
	assert.Contains(t, out.String(), "warning\tmultiple-inputs\t2 roots\n")
	assert.Equal(t, "ERROR: invalid: 1 errors, 1 warnings\n", errOut.String())
}

func TestRenderOrder_Cycle(t *testing.T) {
	p, out, errOut := machinePrinter()
	renderOrder(p, nil, false)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "cycle")
}

func TestProgressObserver_Machine(t *testing.T) {
	p, out, _ := machinePrinter()
	obs := newProgressObserver(p)
	obs.Observe(dag.Event{Type: dag.EventNodeStarted, NodeID: "merge", Progress: 0})
	obs.Observe(dag.Event{Type: dag.EventNodeCompleted, NodeID: "merge", Progress: 50})

	assert.Equal(t, "node_started\tmerge\t0\t\nnode_completed\tmerge\t50\t\n", out.String())
}

func TestRenderResult(t *testing.T) {
	p, out, errOut := machinePrinter()
	renderResult(p, &dag.Result{Outcome: dag.OutcomeSucceeded, Duration: 1500 * time.Millisecond, NodesExecuted: 2})
	assert.Equal(t, "OK: succeeded in 1.5s (2 nodes run)\n", out.String())

	renderResult(p, &dag.Result{Outcome: dag.OutcomeFailed, FailedNode: "ship", Error: "disk full"})
	assert.Contains(t, errOut.String(), "ship: disk full")
}
