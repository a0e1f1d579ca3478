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

import "time"

// EventType names a run lifecycle event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventNodeStarted   EventType = "node_started"
	EventNodeProgress  EventType = "node_progress"
	EventNodeCompleted EventType = "node_completed"
	EventNodeFailed    EventType = "node_failed"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
	EventRunCancelled  EventType = "run_cancelled"
	EventRunRejected   EventType = "run_rejected"
)

// Event is one state change published to observers.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`

	// NodeID is empty for run-level events.
	NodeID       string     `json:"node_id,omitempty"`
	Status       NodeStatus `json:"status,omitempty"`
	NodeProgress int        `json:"node_progress"`

	// Progress is the aggregate run progress after the change.
	Progress int `json:"progress"`

	// Outcome is set on the terminal run events.
	Outcome Outcome   `json:"outcome,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Observer receives events synchronously on the executor goroutine.
// It must not block for long and must not call back into the Executor.
type Observer func(Event)

// Result is the summary of one Execute or Resume call.
type Result struct {
	RunID   string  `json:"run_id"`
	Outcome Outcome `json:"outcome"`

	// Order is the execution order used, empty when rejected.
	Order []string `json:"order"`

	FailedNode string `json:"failed_node,omitempty"`
	Error      string `json:"error,omitempty"`

	// Report is the validation report computed before execution.
	Report Report `json:"report"`

	// NodesExecuted counts adapter calls made by this call, not nodes
	// restored from a checkpoint.
	NodesExecuted int                      `json:"nodes_executed"`
	Duration      time.Duration            `json:"duration"`
	NodeDurations map[string]time.Duration `json:"node_durations"`

	// Outputs holds the artifacts of every completed node.
	Outputs NodeOutputs `json:"outputs"`
}

// Success returns true if every node completed.
func (r *Result) Success() bool {
	return r != nil && r.Outcome == OutcomeSucceeded
}
