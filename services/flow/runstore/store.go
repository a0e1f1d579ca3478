// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore persists checkpoints of finished workflow runs so they can
// be listed, inspected and resumed later.
//
// Two implementations are provided: MemoryStore for tests and single-shot
// CLI use, and BadgerStore for the HTTP server.
package runstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

// ErrNotFound is returned when no checkpoint exists for a run id.
var ErrNotFound = errors.New("run not found")

// Store persists run checkpoints keyed by run id.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces the checkpoint of cp.Snapshot.RunID.
	Save(ctx context.Context, cp *dag.Checkpoint) error

	// Load returns the checkpoint for runID, or ErrNotFound.
	Load(ctx context.Context, runID string) (*dag.Checkpoint, error)

	// List returns summaries of every stored run, newest first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a run. Deleting a missing run returns ErrNotFound.
	Delete(ctx context.Context, runID string) error
}

// Summary is the listing view of a stored run.
type Summary struct {
	RunID        string      `json:"run_id"`
	WorkflowName string      `json:"workflow_name"`
	Outcome      dag.Outcome `json:"outcome"`
	Progress     int         `json:"progress"`
	FailedNode   string      `json:"failed_node,omitempty"`
	Nodes        int         `json:"nodes"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Summarize builds the listing view of a checkpoint.
func Summarize(cp *dag.Checkpoint) Summary {
	return Summary{
		RunID:        cp.Snapshot.RunID,
		WorkflowName: cp.WorkflowName,
		Outcome:      cp.Snapshot.Outcome,
		Progress:     cp.Snapshot.Progress,
		FailedNode:   cp.Snapshot.FailedNode,
		Nodes:        len(cp.Snapshot.Nodes),
		Timestamp:    cp.Timestamp,
	}
}

func sortNewestFirst(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Timestamp.Equal(s[j].Timestamp) {
			return s[i].RunID < s[j].RunID
		}
		return s[i].Timestamp.After(s[j].Timestamp)
	})
}

// MemoryStore keeps checkpoints in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*dag.Checkpoint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*dag.Checkpoint)}
}

// Save stores cp.
func (m *MemoryStore) Save(ctx context.Context, cp *dag.Checkpoint) error {
	if err := validate(ctx, cp); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[cp.Snapshot.RunID] = cp
	return nil
}

// Load returns the stored checkpoint.
func (m *MemoryStore) Load(ctx context.Context, runID string) (*dag.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return cp, nil
}

// List returns summaries newest first.
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.runs))
	for _, cp := range m.runs {
		out = append(out, Summarize(cp))
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a run.
func (m *MemoryStore) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	delete(m.runs, runID)
	return nil
}

func validate(ctx context.Context, cp *dag.Checkpoint) error {
	if ctx == nil {
		return dag.ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp == nil || cp.Snapshot.RunID == "" {
		return dag.ErrInvalidInput
	}
	if !cp.Verify() {
		return dag.ErrCheckpointCorrupt
	}
	return nil
}
