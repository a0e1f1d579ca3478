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
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func failedRun(t *testing.T) (*Executor, *recordingTool, *Run) {
	t.Helper()
	tool := &recordingTool{fail: map[string]error{"b": errors.New("flaky")}}
	e := newTestExecutor(t, tool)

	nodes := []Node{taggedNode("a"), taggedNode("b"), taggedNode("c")}
	nodes[0].InputFiles = Artifacts{Named([]byte("doc-"), "doc.pdf")}
	edges := []Edge{edge("e1", "a", "b"), edge("e2", "b", "c")}

	run, result, err := e.Run(context.Background(), "resumable", nodes, edges)
	if err != nil || result.Outcome != OutcomeFailed {
		t.Fatalf("Run() = %+v, %v; want failed", result, err)
	}
	return e, tool, run
}

func TestCheckpoint_SaveLoadRoundTrip(t *testing.T) {
	_, _, run := failedRun(t)

	cp, err := NewCheckpoint(run)
	if err != nil {
		t.Fatalf("NewCheckpoint() error = %v", err)
	}
	if !cp.Verify() {
		t.Fatal("Verify() = false for a fresh checkpoint")
	}

	path := filepath.Join(t.TempDir(), "run.json")
	if err := SaveCheckpoint(cp, path); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if loaded.WorkflowName != "resumable" {
		t.Errorf("WorkflowName = %q", loaded.WorkflowName)
	}
	if loaded.Snapshot.RunID != run.ID() {
		t.Errorf("RunID = %q, want %q", loaded.Snapshot.RunID, run.ID())
	}
	out := loaded.Snapshot.Outputs["a"]
	if len(out) != 1 || string(out[0].Bytes()) != "doc-a" {
		t.Errorf("outputs[a] = %v", out)
	}
	if _, ok := out[0].(BlobArtifact); !ok {
		t.Errorf("outputs[a][0] is %T, want BlobArtifact", out[0])
	}
}

func TestLoadCheckpoint_Corrupt(t *testing.T) {
	_, _, run := failedRun(t)
	cp, _ := NewCheckpoint(run)
	cp.Snapshot.FailedNode = "tampered"

	path := filepath.Join(t.TempDir(), "run.json")
	if err := SaveCheckpoint(cp, path); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCheckpoint(path); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Errorf("LoadCheckpoint() error = %v, want ErrCheckpointCorrupt", err)
	}
}

func TestLoadCheckpoint_Version(t *testing.T) {
	_, _, run := failedRun(t)

	tests := []struct {
		version string
		wantErr error
	}{
		{"1.4.2", nil},
		{"2.0.0", ErrCheckpointVersionMismatch},
		{"garbage", ErrCheckpointVersionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			cp, _ := NewCheckpoint(run)
			cp.Version = tt.version
			sum, err := cp.computeChecksum()
			if err != nil {
				t.Fatal(err)
			}
			cp.Checksum = sum

			data, err := json.Marshal(cp)
			if err != nil {
				t.Fatal(err)
			}
			_, err = UnmarshalCheckpoint(data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UnmarshalCheckpoint() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	if _, err := LoadCheckpoint(""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("LoadCheckpoint(\"\") error = %v, want ErrInvalidInput", err)
	}
	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadCheckpoint(missing) error = %v, want not exist", err)
	}
}

func TestExecutor_ResumeSkipsCompletedNodes(t *testing.T) {
	e, tool, run := failedRun(t)

	cp, err := NewCheckpoint(run)
	if err != nil {
		t.Fatal(err)
	}
	data, err := cp.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := UnmarshalCheckpoint(data)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := loaded.Restore()
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	tool.mu.Lock()
	tool.fail = nil
	tool.calls = nil
	tool.mu.Unlock()

	result, err := e.Resume(context.Background(), restored)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Outcome = %s, error = %s", result.Outcome, result.Error)
	}
	if got := tool.called(); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("tool calls = %v, want [b c]", got)
	}
	if result.NodesExecuted != 2 {
		t.Errorf("NodesExecuted = %d, want 2", result.NodesExecuted)
	}
	if restored.ID() != run.ID() {
		t.Errorf("resumed run id = %q, want %q", restored.ID(), run.ID())
	}
	out, _ := restored.Outputs("c")
	if len(out) != 1 || string(out[0].Bytes()) != "doc-abc" {
		t.Errorf("outputs[c] = %v, want doc-abc", out)
	}
}

func TestExecutor_ResumeFinishedRun(t *testing.T) {
	tool := &recordingTool{}
	e := newTestExecutor(t, tool)
	run, _, err := e.Run(context.Background(), "done", []Node{taggedNode("a")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Resume(context.Background(), run); !errors.Is(err, ErrRunFinished) {
		t.Errorf("Resume() error = %v, want ErrRunFinished", err)
	}
}

func TestCheckpoint_RestoreRejectsTampering(t *testing.T) {
	_, _, run := failedRun(t)
	cp, _ := NewCheckpoint(run)
	cp.Snapshot.Nodes[0].Status = StatusError

	if _, err := cp.Restore(); !errors.Is(err, ErrCheckpointCorrupt) {
		t.Errorf("Restore() error = %v, want ErrCheckpointCorrupt", err)
	}
}
