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
	"encoding/json"
	"fmt"
	"time"
)

// NodeStatus represents the execution status of a node.
type NodeStatus string

const (
	// StatusIdle indicates the node hasn't started in the current run.
	StatusIdle NodeStatus = "idle"

	// StatusProcessing indicates the node's tool adapter is running.
	StatusProcessing NodeStatus = "processing"

	// StatusComplete indicates the adapter succeeded and outputs are stored.
	StatusComplete NodeStatus = "complete"

	// StatusError indicates the adapter failed.
	StatusError NodeStatus = "error"
)

// IsTerminal returns true once a node can no longer change within a run.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Node is one step of a workflow.
//
// Description:
//
//	Node pairs a tool with the formats it accepts and produces. Status,
//	Progress and Error are owned by the Executor during a run; everything
//	else is authored outside the engine and only read.
type Node struct {
	// ID is unique within a workflow. Identity is by ID only.
	ID string `json:"id" yaml:"id"`

	// ToolID selects the tool adapter that runs this node.
	ToolID string `json:"tool_id" yaml:"tool_id"`

	// AcceptedFormats lists the formats this node can consume (e.g. ".pdf").
	AcceptedFormats []string `json:"accepted_formats" yaml:"accepted_formats"`

	// OutputFormat is the format this node produces.
	OutputFormat string `json:"output_format" yaml:"output_format"`

	// Config is passed verbatim to the tool adapter.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Status is the node's position in its state machine.
	Status NodeStatus `json:"status" yaml:"status"`

	// Progress is 0-100.
	Progress int `json:"progress" yaml:"progress"`

	// InputFiles are user supplied inputs, only read for root nodes.
	InputFiles Artifacts `json:"input_files,omitempty" yaml:"-"`

	// Error is the adapter failure message when Status is StatusError.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Timeout bounds the adapter call. Zero falls back to the executor default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Clone returns a copy of the node whose slices and config map can be
// modified without affecting the original. Artifact payloads are shared.
func (n Node) Clone() Node {
	c := n
	if n.AcceptedFormats != nil {
		c.AcceptedFormats = append([]string(nil), n.AcceptedFormats...)
	}
	if n.InputFiles != nil {
		c.InputFiles = append(Artifacts(nil), n.InputFiles...)
	}
	if n.Config != nil {
		c.Config = make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			c.Config[k] = v
		}
	}
	return c
}

// reset returns the node to its pre-run state.
func (n *Node) reset() {
	n.Status = StatusIdle
	n.Progress = 0
	n.Error = ""
}

// Edge says that Source's output feeds Target's input.
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// =============================================================================
// Artifacts
// =============================================================================

// Artifact is an output produced by a node.
//
// Artifact is a closed variant with exactly two cases, BlobArtifact and
// NamedArtifact. Consumers switch on the concrete type:
//
//	switch a := artifact.(type) {
//	case dag.BlobArtifact:
//	    write(a.Data)
//	case dag.NamedArtifact:
//	    writeAs(a.Filename, a.Data)
//	}
type Artifact interface {
	// Bytes returns the artifact payload.
	Bytes() []byte

	isArtifact()
}

// BlobArtifact is a raw binary payload without a name.
type BlobArtifact struct {
	Data []byte
}

// Bytes returns the payload.
func (a BlobArtifact) Bytes() []byte { return a.Data }

func (BlobArtifact) isArtifact() {}

// NamedArtifact is a payload with a suggested filename.
type NamedArtifact struct {
	Data     []byte
	Filename string
}

// Bytes returns the payload.
func (a NamedArtifact) Bytes() []byte { return a.Data }

func (NamedArtifact) isArtifact() {}

// Blob creates a BlobArtifact.
func Blob(data []byte) Artifact {
	return BlobArtifact{Data: data}
}

// Named creates a NamedArtifact.
func Named(data []byte, filename string) Artifact {
	return NamedArtifact{Data: data, Filename: filename}
}

// Artifact kinds on the wire.
const (
	ArtifactKindBlob  = "blob"
	ArtifactKindNamed = "named"
)

// artifactJSON is the wire form of an Artifact. Data is base64 encoded by encoding/json.
type artifactJSON struct {
	Kind     string `json:"kind"`
	Data     []byte `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// Artifacts is an ordered artifact list with a JSON encoding that keeps the variant tag.
type Artifacts []Artifact

// MarshalJSON encodes each artifact with its kind.
func (as Artifacts) MarshalJSON() ([]byte, error) {
	wire := make([]artifactJSON, 0, len(as))
	for i, a := range as {
		switch v := a.(type) {
		case BlobArtifact:
			wire = append(wire, artifactJSON{Kind: ArtifactKindBlob, Data: v.Data})
		case NamedArtifact:
			wire = append(wire, artifactJSON{Kind: ArtifactKindNamed, Data: v.Data, Filename: v.Filename})
		default:
			return nil, fmt.Errorf("%w: artifact %d has unsupported type %T", ErrInvalidInput, i, a)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the tagged wire form.
func (as *Artifacts) UnmarshalJSON(data []byte) error {
	var wire []artifactJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(Artifacts, 0, len(wire))
	for i, w := range wire {
		switch w.Kind {
		case ArtifactKindBlob:
			out = append(out, BlobArtifact{Data: w.Data})
		case ArtifactKindNamed:
			out = append(out, NamedArtifact{Data: w.Data, Filename: w.Filename})
		default:
			return fmt.Errorf("%w: artifact %d has unknown kind %q", ErrInvalidInput, i, w.Kind)
		}
	}
	*as = out
	return nil
}

// NodeOutputs maps a node id to the artifacts of its most recent run.
// A missing entry means the node has not run.
type NodeOutputs map[string]Artifacts

// clone copies the map and each list; payloads are shared.
func (o NodeOutputs) clone() NodeOutputs {
	c := make(NodeOutputs, len(o))
	for k, v := range o {
		c[k] = append(Artifacts(nil), v...)
	}
	return c
}

// Graph is the adjacency and in-degree view of a workflow.
type Graph struct {
	// Adjacency maps every node id to the targets of its outgoing edges, in edge order.
	Adjacency map[string][]string

	// InDegree maps every node id to its number of incoming edges.
	InDegree map[string]int
}
