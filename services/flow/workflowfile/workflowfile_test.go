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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

const mergeWorkflow = `
name: merge-and-ship
nodes:
  - id: merge
    tool: concat
    inputs: [a.txt, data/b.txt]
    config:
      separator: "\n"
  - id: ship
    tool: bundle
    timeout: 30s
edges:
  - source: merge
    target: ship
`

func registry(t *testing.T) *tools.Registry {
	t.Helper()
	cat, err := tools.DefaultCatalog(context.Background())
	require.NoError(t, err)
	reg, err := tools.NewDefaultRegistry(cat)
	require.NoError(t, err)
	return reg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(mergeWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "merge-and-ship", doc.Name)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, 30*time.Second, doc.Nodes[1].Timeout)
	assert.Equal(t, "\n", doc.Nodes[0].Config["separator"])
	assert.Equal(t, []string{"a.txt", "data/b.txt"}, doc.Nodes[0].Inputs)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no name", "nodes: [{id: a, tool: t}]"},
		{"no nodes", "name: x"},
		{"node without tool", "name: x\nnodes: [{id: a}]"},
		{"unknown key", "name: x\nnodes: [{id: a, tool: t, colour: red}]"},
		{"edge without target", "name: x\nnodes: [{id: a, tool: t}]\nedges: [{source: a}]"},
		{"bad timeout", "name: x\nnodes: [{id: a, tool: t, timeout: soon}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestLoad_ResolvesInputsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, "data", "b.txt"), "beta")
	path := filepath.Join(dir, "flow.yaml")
	writeFile(t, path, mergeWorkflow)

	wf, err := Load(path, registry(t))
	require.NoError(t, err)

	assert.Equal(t, "merge-and-ship", wf.Name)
	require.Len(t, wf.Nodes, 2)

	merge := wf.Nodes[0]
	assert.Equal(t, ".txt", merge.OutputFormat, "output format from catalog")
	assert.Contains(t, merge.AcceptedFormats, ".txt")
	require.Len(t, merge.InputFiles, 2)
	assert.Equal(t, dag.Named([]byte("alpha"), "a.txt"), merge.InputFiles[0])
	assert.Equal(t, dag.Named([]byte("beta"), "b.txt"), merge.InputFiles[1])

	assert.Equal(t, ".zip", wf.Nodes[1].OutputFormat)
	assert.Equal(t, 30*time.Second, wf.Nodes[1].Timeout)

	require.Len(t, wf.Edges, 1)
	assert.Equal(t, "merge->ship", wf.Edges[0].ID)

	report := dag.ValidateWorkflow(wf.Nodes, wf.Edges)
	assert.True(t, report.IsValid, "%+v", report.Errors)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing input", func(t *testing.T) {
		path := filepath.Join(dir, "missing.yaml")
		writeFile(t, path, "name: x\nnodes: [{id: a, tool: concat, inputs: [nope.txt]}]")
		_, err := Load(path, nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("dangling edge", func(t *testing.T) {
		path := filepath.Join(dir, "dangling.yaml")
		writeFile(t, path, "name: x\nnodes: [{id: a, tool: concat}]\nedges: [{source: a, target: b}]")
		_, err := Load(path, nil)
		assert.ErrorIs(t, err, dag.ErrNodeNotFound)
	})

	t.Run("duplicate node", func(t *testing.T) {
		path := filepath.Join(dir, "dup.yaml")
		writeFile(t, path, "name: x\nnodes: [{id: a, tool: concat}, {id: a, tool: bundle}]")
		_, err := Load(path, nil)
		assert.ErrorIs(t, err, dag.ErrDuplicateNode)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.yaml"), nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoad_RunsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "alpha")
	writeFile(t, filepath.Join(dir, "data", "b.txt"), "beta")
	path := filepath.Join(dir, "flow.yaml")
	writeFile(t, path, mergeWorkflow)

	reg := registry(t)
	wf, err := Load(path, reg)
	require.NoError(t, err)

	exec, err := dag.NewExecutor(reg, nil)
	require.NoError(t, err)
	run, result, err := exec.Run(context.Background(), wf.Name, wf.Nodes, wf.Edges)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Error)

	out, ok := run.Outputs("ship")
	require.True(t, ok)
	require.Len(t, out, 1)
	assert.Equal(t, "bundle.zip", out[0].(dag.NamedArtifact).Filename)
}

func TestDocument_MarshalRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(mergeWorkflow))
	require.NoError(t, err)

	data, err := doc.Marshal()
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestDocument_MarshalKeepsNewlineStrings(t *testing.T) {
	for _, sep := range []string{"\n", "\n\n", "a\nb", "trailing\n", " "} {
		doc := &Document{
			Name: "separators",
			Nodes: []NodeSpec{{
				ID:     "merge",
				Tool:   "concat",
				Config: map[string]any{"separator": sep},
			}},
		}
		data, err := doc.Marshal()
		require.NoError(t, err)

		again, err := Parse(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, sep, again.Nodes[0].Config["separator"], "yaml:\n%s", data)
	}
}

func TestWatcher_InvokesHandlerOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	writeFile(t, path, mergeWorkflow)

	changed := make(chan string, 4)
	w, err := NewWatcher(path, func(_ context.Context, p string) {
		changed <- p
	}, &WatcherOptions{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Unrelated files in the directory are ignored.
	writeFile(t, filepath.Join(dir, "other.yaml"), "x")
	writeFile(t, path, mergeWorkflow+"\n# edited\n")

	select {
	case p := <-changed:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, p)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called after change")
	}
}

func TestNewWatcher_NilHandler(t *testing.T) {
	_, err := NewWatcher("flow.yaml", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
