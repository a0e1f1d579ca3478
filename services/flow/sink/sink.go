// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink writes the artifacts of a finished run to a destination.
//
// A destination is a local directory or a Google Cloud Storage prefix.
// Export picks the output nodes of the workflow (nodes with no outgoing
// edges) and writes every artifact they produced.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

// DefaultConcurrency bounds parallel writes during Export.
const DefaultConcurrency = 4

// ErrInvalidName is returned for names that would escape the destination.
var ErrInvalidName = errors.New("invalid artifact name")

// Sink is a destination for artifact bytes.
//
// Thread Safety: Implementations must be safe for concurrent Write calls.
type Sink interface {
	// Write stores data under name, replacing any existing object.
	Write(ctx context.Context, name string, data []byte) error

	// Location describes where name ends up, for reporting.
	Location(name string) string
}

// LocalSink writes files into a directory.
type LocalSink struct {
	Dir string
}

// NewLocalSink creates dir if needed.
func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrInvalidName)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &LocalSink{Dir: dir}, nil
}

// Write stores data atomically via a temp file and rename.
func (s *LocalSink) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}

	target := filepath.Join(s.Dir, name)
	tmp, err := os.CreateTemp(s.Dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Location returns the file path of name.
func (s *LocalSink) Location(name string) string {
	return filepath.Join(s.Dir, name)
}

// File is one artifact selected for export.
type File struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	Size   int    `json:"size"`

	// Location is filled in by Export once written.
	Location string `json:"location,omitempty"`

	data []byte
}

// Plan lists the files Export would write for snap.
//
// Description:
//
//	Only output nodes are considered, in workflow order. A NamedArtifact
//	keeps its base filename; a BlobArtifact is named
//	"<node>-<n><output_format>" with n counting from 1. A name already used
//	by an earlier file is prefixed with "<node>-".
func Plan(snap dag.Snapshot) []File {
	var files []File
	used := make(map[string]bool)

	for _, node := range dag.OutputNodes(snap.Nodes, snap.Edges) {
		for i, a := range snap.Outputs[node.ID] {
			name := fmt.Sprintf("%s-%d%s", node.ID, i+1, node.OutputFormat)
			if named, ok := a.(dag.NamedArtifact); ok && named.Filename != "" {
				name = filepath.Base(named.Filename)
			}
			if used[name] {
				name = node.ID + "-" + name
			}
			used[name] = true
			files = append(files, File{
				NodeID: node.ID,
				Name:   name,
				Size:   len(a.Bytes()),
				data:   a.Bytes(),
			})
		}
	}
	return files
}

// Export writes the output artifacts of snap to s.
//
// Inputs:
//
//	ctx - Cancels outstanding writes.
//	s - Destination.
//	snap - A run snapshot. Incomplete output nodes contribute nothing.
//	logger - Receives one line per file. If nil, uses slog.Default().
//
// Outputs:
//
//	[]File - The files written, with Location set, in Plan order.
//	error - The first write failure.
func Export(ctx context.Context, s Sink, snap dag.Snapshot, logger *slog.Logger) ([]File, error) {
	if ctx == nil {
		return nil, dag.ErrNilContext
	}
	if logger == nil {
		logger = slog.Default()
	}

	files := Plan(snap)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)

	for i := range files {
		f := &files[i]
		g.Go(func() error {
			if err := s.Write(gctx, f.Name, f.data); err != nil {
				return fmt.Errorf("export %s from %s: %w", f.Name, f.NodeID, err)
			}
			f.Location = s.Location(f.Name)
			logger.Info("artifact exported",
				slog.String("run_id", snap.RunID),
				slog.String("node", f.NodeID),
				slog.String("location", f.Location),
				slog.Int("bytes", f.Size),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// Open returns a sink for target: "gs://bucket/prefix" selects GCS, anything
// else is a local directory. credentialsFile is only used for GCS and may
// be empty to use application default credentials.
func Open(ctx context.Context, target, credentialsFile string) (Sink, error) {
	if bucket, prefix, ok := ParseGCSURL(target); ok {
		return NewGCSSink(ctx, bucket, prefix, credentialsFile)
	}
	return NewLocalSink(target)
}

// Close releases resources held by s, if any.
func Close(s Sink) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
