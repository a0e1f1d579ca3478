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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"
)

// CheckpointVersion is written into every checkpoint. Checkpoints with the
// same major version can be loaded.
const CheckpointVersion = "1.0.0"

// Checkpoint is a persisted, integrity-checked run snapshot.
//
// Description:
//
//	A checkpoint captures node statuses and outputs so that a failed or
//	cancelled run can be resumed without re-running completed nodes.
//	Artifacts are embedded as base64, so checkpoints of large runs are large.
type Checkpoint struct {
	Snapshot     Snapshot  `json:"snapshot"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	Checksum     string    `json:"checksum"`
	WorkflowName string    `json:"workflow_name"`
}

// NewCheckpoint snapshots run and seals it with a checksum.
func NewCheckpoint(run *Run) (*Checkpoint, error) {
	if run == nil {
		return nil, ErrNilRun
	}
	snap := run.Snapshot()
	cp := &Checkpoint{
		Snapshot:     snap,
		Timestamp:    time.Now().UTC(),
		Version:      CheckpointVersion,
		WorkflowName: snap.Name,
	}
	sum, err := cp.computeChecksum()
	if err != nil {
		return nil, fmt.Errorf("compute checksum: %w", err)
	}
	cp.Checksum = sum
	return cp, nil
}

// computeChecksum hashes everything except the checksum itself.
func (c *Checkpoint) computeChecksum() (string, error) {
	data := struct {
		Snapshot     Snapshot  `json:"snapshot"`
		Timestamp    time.Time `json:"timestamp"`
		Version      string    `json:"version"`
		WorkflowName string    `json:"workflow_name"`
	}{
		Snapshot:     c.Snapshot,
		Timestamp:    c.Timestamp,
		Version:      c.Version,
		WorkflowName: c.WorkflowName,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// Verify returns true if the checksum matches the contents.
func (c *Checkpoint) Verify() bool {
	if c == nil {
		return false
	}
	expected, err := c.computeChecksum()
	if err != nil {
		return false
	}
	return c.Checksum == expected
}

// Restore verifies the checkpoint and rebuilds its run for Executor.Resume.
func (c *Checkpoint) Restore() (*Run, error) {
	if !c.Verify() {
		return nil, ErrCheckpointCorrupt
	}
	return restoreRun(c.Snapshot), nil
}

// Marshal encodes the checkpoint as indented JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

// UnmarshalCheckpoint decodes and verifies a checkpoint.
//
// Outputs:
//
//	*Checkpoint - The decoded checkpoint.
//	error - ErrCheckpointVersionMismatch for an incompatible major version,
//	        ErrCheckpointCorrupt when the checksum does not match.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if !compatibleVersion(cp.Version) {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrCheckpointVersionMismatch, cp.Version, CheckpointVersion)
	}
	if !cp.Verify() {
		return nil, ErrCheckpointCorrupt
	}
	return &cp, nil
}

func compatibleVersion(v string) bool {
	got := "v" + v
	if !semver.IsValid(got) {
		return false
	}
	return semver.Major(got) == semver.Major("v"+CheckpointVersion)
}

// SaveCheckpoint writes a checkpoint to path atomically.
//
// Description:
//
//	The JSON is written to a temp file in the same directory, synced and
//	renamed over path, so readers never see a partial checkpoint.
func SaveCheckpoint(cp *Checkpoint, path string) error {
	if cp == nil {
		return fmt.Errorf("%w: checkpoint must not be nil", ErrInvalidInput)
	}
	if path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}

	data, err := cp.Marshal()
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	success = true
	return nil
}

// LoadCheckpoint reads and verifies a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return UnmarshalCheckpoint(data)
}
