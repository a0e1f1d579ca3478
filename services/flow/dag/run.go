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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the overall state of a run.
type Outcome string

const (
	// OutcomePending means the run has not been executed yet.
	OutcomePending Outcome = "pending"

	// OutcomeRunning means the executor is walking the order.
	OutcomeRunning Outcome = "running"

	// OutcomeSucceeded means every node completed.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed means a tool adapter failed and the run halted.
	OutcomeFailed Outcome = "failed"

	// OutcomeCancelled means the cancellation token fired. Not an error.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeRejected means validation failed and nothing ran.
	OutcomeRejected Outcome = "rejected"
)

// IsTerminal returns true if the run will not change any more.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeCancelled, OutcomeRejected:
		return true
	default:
		return false
	}
}

// Run is the mutable state of one workflow execution.
//
// Description:
//
//	Run owns private copies of the workflow's nodes and edges. The Executor
//	is the only writer; any number of observers may read Snapshot, Node,
//	Outputs or Progress while the run is in flight.
//
// Thread Safety:
//
//	Run uses internal locking and is safe for concurrent access.
type Run struct {
	mu sync.RWMutex

	id    string
	name  string
	nodes []Node
	index map[string]int
	edges []Edge

	outputs    NodeOutputs
	outcome    Outcome
	failedNode string
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time
}

// NewRun creates a run for the given workflow with a fresh id.
//
// Inputs:
//
//	name - Workflow name, used in logs and checkpoints. May be empty.
//	nodes - Workflow nodes. Copied; the caller's slice is never modified.
//	edges - Workflow edges. Copied.
//
// Outputs:
//
//	*Run - A pending run with every node Idle.
func NewRun(name string, nodes []Node, edges []Edge) *Run {
	r := &Run{
		id:      uuid.NewString(),
		name:    name,
		nodes:   make([]Node, len(nodes)),
		edges:   append([]Edge(nil), edges...),
		outputs: make(NodeOutputs),
		outcome: OutcomePending,
	}
	for i, n := range nodes {
		r.nodes[i] = n.Clone()
		r.nodes[i].reset()
	}
	r.index = nodeIndex(r.nodes)
	return r
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Name returns the workflow name.
func (r *Run) Name() string {
	return r.name
}

// Outcome returns the current run outcome.
func (r *Run) Outcome() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome
}

// Node returns a copy of a node's current state.
func (r *Run) Node(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Node{}, false
	}
	return r.nodes[i].Clone(), true
}

// Outputs returns the artifacts a node produced in this run.
func (r *Run) Outputs(id string) (Artifacts, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[id]
	if !ok {
		return nil, false
	}
	return append(Artifacts(nil), out...), true
}

// Progress returns the aggregate progress over all nodes.
func (r *Run) Progress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return CalculateProgress(r.nodes)
}

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	RunID      string      `json:"run_id"`
	Name       string      `json:"name"`
	Outcome    Outcome     `json:"outcome"`
	Nodes      []Node      `json:"nodes"`
	Edges      []Edge      `json:"edges"`
	Outputs    NodeOutputs `json:"outputs"`
	Progress   int         `json:"progress"`
	FailedNode string      `json:"failed_node,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Snapshot returns a consistent copy of the run.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, len(r.nodes))
	for i, n := range r.nodes {
		nodes[i] = n.Clone()
	}
	return Snapshot{
		RunID:      r.id,
		Name:       r.name,
		Outcome:    r.outcome,
		Nodes:      nodes,
		Edges:      append([]Edge(nil), r.edges...),
		Outputs:    r.outputs.clone(),
		Progress:   CalculateProgress(r.nodes),
		FailedNode: r.failedNode,
		Error:      r.errMsg,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
}

// restoreRun rebuilds a run from a snapshot, keeping its id.
func restoreRun(s Snapshot) *Run {
	r := &Run{
		id:         s.RunID,
		name:       s.Name,
		nodes:      make([]Node, len(s.Nodes)),
		edges:      append([]Edge(nil), s.Edges...),
		outputs:    s.Outputs.clone(),
		outcome:    s.Outcome,
		failedNode: s.FailedNode,
		errMsg:     s.Error,
		startedAt:  s.StartedAt,
		finishedAt: s.FinishedAt,
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	for i, n := range s.Nodes {
		r.nodes[i] = n.Clone()
	}
	r.index = nodeIndex(r.nodes)
	return r
}

// workflow returns copies of nodes and edges for validation.
func (r *Run) workflow() ([]Node, []Edge) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]Node, len(r.nodes))
	for i, n := range r.nodes {
		nodes[i] = n.Clone()
	}
	return nodes, append([]Edge(nil), r.edges...)
}

// reset prepares a fresh run: every node Idle and no outputs.
func (r *Run) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.nodes {
		r.nodes[i].reset()
	}
	r.outputs = make(NodeOutputs)
	r.outcome = OutcomePending
	r.failedNode = ""
	r.errMsg = ""
	r.startedAt = time.Time{}
	r.finishedAt = time.Time{}
}

// resetIncomplete keeps completed nodes and their outputs and resets the rest.
// Returns the number of completed nodes kept.
func (r *Run) resetIncomplete() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := 0
	for i := range r.nodes {
		n := &r.nodes[i]
		if _, ok := r.outputs[n.ID]; ok && n.Status == StatusComplete {
			kept++
			continue
		}
		n.reset()
		delete(r.outputs, n.ID)
	}
	r.outcome = OutcomePending
	r.failedNode = ""
	r.errMsg = ""
	r.finishedAt = time.Time{}
	return kept
}

func (r *Run) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = OutcomeRunning
	if r.startedAt.IsZero() {
		r.startedAt = time.Now()
	}
}

// allComplete is true when every node completed and kept its outputs.
func (r *Run) allComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.nodes) == 0 {
		return false
	}
	for _, n := range r.nodes {
		if _, ok := r.outputs[n.ID]; !ok || n.Status != StatusComplete {
			return false
		}
	}
	return true
}

func (r *Run) isComplete(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	return ok && r.nodes[i].Status == StatusComplete
}

// collectInputs runs CollectInputFiles against the current state.
func (r *Run) collectInputs(id string) []Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return CollectInputFiles(id, r.nodes, r.edges, r.outputs)
}

func (r *Run) setProcessing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		r.nodes[i].Status = StatusProcessing
		r.nodes[i].Progress = 0
		r.nodes[i].Error = ""
	}
}

// setProgress applies an adapter report. It is a no-op unless the node is Processing.
func (r *Run) setProgress(id string, percent int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok || r.nodes[i].Status != StatusProcessing {
		return false
	}
	r.nodes[i].Progress = percent
	return true
}

func (r *Run) setComplete(id string, outputs []Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[id] = append(Artifacts(nil), outputs...)
	if i, ok := r.index[id]; ok {
		r.nodes[i].Status = StatusComplete
		r.nodes[i].Progress = 100
	}
}

func (r *Run) setError(id string, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		r.nodes[i].Status = StatusError
		r.nodes[i].Error = msg
	}
}

func (r *Run) finish(outcome Outcome, failedNode, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
	r.failedNode = failedNode
	r.errMsg = errMsg
	r.finishedAt = time.Now()
}

// CollectInputFiles assembles the inputs for one node.
//
// Description:
//
//	A node without parents receives its own InputFiles (empty when nil).
//	Otherwise the outputs of each parent are concatenated in ParentNodes
//	order, each keeping its internal order. Parents without outputs
//	contribute nothing. Artifacts are passed through untouched.
//
// Inputs:
//
//	nodeID - The node whose inputs are needed.
//	nodes - Workflow nodes.
//	edges - Workflow edges.
//	outputs - Outputs produced so far in the run.
//
// Outputs:
//
//	[]Artifact - Ordered inputs. Never nil.
func CollectInputFiles(nodeID string, nodes []Node, edges []Edge, outputs NodeOutputs) []Artifact {
	parents := ParentNodes(nodeID, edges)
	if len(parents) == 0 {
		for _, n := range nodes {
			if n.ID == nodeID {
				return append([]Artifact{}, n.InputFiles...)
			}
		}
		return []Artifact{}
	}

	inputs := make([]Artifact, 0)
	for _, p := range parents {
		inputs = append(inputs, outputs[p]...)
	}
	return inputs
}
