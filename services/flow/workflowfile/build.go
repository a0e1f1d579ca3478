// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflowfile

import (
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

// Workflow is a document resolved into engine types.
type Workflow struct {
	Name  string
	Nodes []dag.Node
	Edges []dag.Edge
}

// Build resolves doc into nodes and edges.
//
// Description:
//
//	Edges without an id get "<source>-><target>". Input paths are read
//	relative to baseDir into NamedArtifacts named after the file. When reg
//	is non-nil, formats a node leaves empty are filled from its tool's
//	registry entry. The result passes dag.CheckReferences.
//
// Inputs:
//
//	doc - A validated document.
//	baseDir - Directory relative input paths are resolved against.
//	reg - Tool registry for format defaults. May be nil.
//
// Outputs:
//
//	*Workflow - The resolved workflow.
//	error - Input read failures or a dag reference error.
func Build(doc *Document, baseDir string, reg *tools.Registry) (*Workflow, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}

	nodes := make([]dag.Node, 0, len(doc.Nodes))
	for _, spec := range doc.Nodes {
		inputs, err := readInputs(baseDir, spec.Inputs)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", spec.ID, err)
		}
		nodes = append(nodes, dag.Node{
			ID:              spec.ID,
			ToolID:          spec.Tool,
			AcceptedFormats: append([]string(nil), spec.AcceptedFormats...),
			OutputFormat:    spec.OutputFormat,
			Config:          spec.Config,
			InputFiles:      inputs,
			Timeout:         spec.Timeout,
		})
	}
	if reg != nil {
		nodes = reg.ApplyDefaults(nodes)
	}

	edges := make([]dag.Edge, 0, len(doc.Edges))
	for _, spec := range doc.Edges {
		id := spec.ID
		if id == "" {
			id = spec.Source + "->" + spec.Target
		}
		edges = append(edges, dag.Edge{ID: id, Source: spec.Source, Target: spec.Target})
	}

	if err := dag.CheckReferences(nodes, edges); err != nil {
		return nil, err
	}
	return &Workflow{Name: doc.Name, Nodes: nodes, Edges: edges}, nil
}

// Load reads the workflow file at path and builds it, resolving inputs
// relative to the file's directory.
func Load(path string, reg *tools.Registry) (*Workflow, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	wf, err := Build(doc, filepath.Dir(path), reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

func readInputs(baseDir string, paths []string) (dag.Artifacts, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out := make(dag.Artifacts, 0, len(paths))
	for _, p := range paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, p)
		}
		data, err := readLimited(full, MaxInputFileSize, ErrInputTooLarge)
		if err != nil {
			return nil, fmt.Errorf("read input %s: %w", p, err)
		}
		out = append(out, dag.Named(data, filepath.Base(full)))
	}
	return out, nil
}
