// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

// ErrNoInputs is returned by built-ins that need at least one input.
var ErrNoInputs = errors.New("no input artifacts")

// Built-in tool ids.
const (
	PassthroughID = "passthrough"
	ConcatID      = "concat"
	RenameID      = "rename"
	BundleID      = "bundle"
)

// Passthrough forwards its inputs unchanged.
func Passthrough(ctx context.Context, inputs []dag.Artifact, _ map[string]any, onProgress dag.ProgressFunc) ([]dag.Artifact, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	onProgress(100, "forwarded")
	return append([]dag.Artifact(nil), inputs...), nil
}

// Concat joins every input into one blob.
//
// Config:
//
//	separator - string placed between inputs. Default empty.
func Concat(ctx context.Context, inputs []dag.Artifact, config map[string]any, onProgress dag.ProgressFunc) ([]dag.Artifact, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	sep := []byte(stringConfig(config, "separator", ""))

	var buf bytes.Buffer
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			buf.Write(sep)
		}
		buf.Write(in.Bytes())
		onProgress(percentOf(i+1, len(inputs)), "")
	}
	return []dag.Artifact{dag.Blob(buf.Bytes())}, nil
}

// Rename gives every input a filename built from a pattern.
//
// Config:
//
//	pattern - Filename pattern. Placeholders {name}, {stem}, {ext} and
//	          {index} (1-based). Default "{name}".
//	ext - Extension used for blobs, which have no name. Default "".
func Rename(ctx context.Context, inputs []dag.Artifact, config map[string]any, onProgress dag.ProgressFunc) ([]dag.Artifact, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	pattern := stringConfig(config, "pattern", "{name}")
	blobExt := stringConfig(config, "ext", "")

	out := make([]dag.Artifact, 0, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := artifactName(in, i, blobExt)
		ext := filepath.Ext(name)
		r := strings.NewReplacer(
			"{name}", name,
			"{stem}", strings.TrimSuffix(name, ext),
			"{ext}", ext,
			"{index}", strconv.Itoa(i+1),
		)
		newName := r.Replace(pattern)
		if newName == "" || strings.ContainsAny(newName, `/\`) {
			return nil, fmt.Errorf("pattern %q yields invalid filename %q", pattern, newName)
		}
		out = append(out, dag.Named(in.Bytes(), newName))
		onProgress(percentOf(i+1, len(inputs)), newName)
	}
	return out, nil
}

// Bundle packs every input into one zip archive.
//
// Config:
//
//	filename - Archive filename. Default "bundle.zip".
func Bundle(ctx context.Context, inputs []dag.Artifact, config map[string]any, onProgress dag.ProgressFunc) ([]dag.Artifact, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	filename := stringConfig(config, "filename", "bundle.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	used := make(map[string]int, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := uniqueName(artifactName(in, i, ".bin"), used)
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", name, err)
		}
		if _, err := w.Write(in.Bytes()); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", name, err)
		}
		onProgress(percentOf(i+1, len(inputs)), name)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return []dag.Artifact{dag.Named(buf.Bytes(), filename)}, nil
}

// RegisterBuiltins adds the built-in adapters to r.
func RegisterBuiltins(r *Registry) error {
	builtins := []Entry{
		{ID: PassthroughID, Tool: dag.ToolFunc(Passthrough)},
		{ID: ConcatID, Tool: dag.ToolFunc(Concat), OutputFormat: ".txt"},
		{ID: RenameID, Tool: dag.ToolFunc(Rename)},
		{ID: BundleID, Tool: dag.ToolFunc(Bundle), OutputFormat: ".zip"},
	}
	for _, e := range builtins {
		if err := r.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry with the built-ins registered and
// cat applied. A nil cat leaves the built-in metadata as is.
func NewDefaultRegistry(cat *Catalog) (*Registry, error) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		return nil, err
	}
	if cat != nil {
		r.ApplyCatalog(cat)
	}
	return r, nil
}

// artifactName is the filename of a named artifact, or a generated one for blobs.
func artifactName(a dag.Artifact, index int, blobExt string) string {
	if n, ok := a.(dag.NamedArtifact); ok && n.Filename != "" {
		return filepath.Base(n.Filename)
	}
	return fmt.Sprintf("artifact-%d%s", index+1, blobExt)
}

// uniqueName suffixes repeated names with -2, -3 and so on before the extension.
func uniqueName(name string, used map[string]int) string {
	used[name]++
	if used[name] == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), used[name], ext)
	return uniqueName(candidate, used)
}

func stringConfig(config map[string]any, key, def string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return def
}

func percentOf(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
