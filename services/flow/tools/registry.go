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
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

var (
	// ErrDuplicateTool is returned when a tool id is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidEntry is returned for entries without an id or adapter.
	ErrInvalidEntry = errors.New("invalid tool entry")
)

var toolResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flow_tool_resolutions_total",
	Help: "Tool lookups by tool id and result",
}, []string{"tool", "found"})

// Entry is one registered tool.
type Entry struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	AcceptedFormats []string `json:"accepted_formats"`
	OutputFormat    string   `json:"output_format,omitempty"`

	// Tool is the adapter. Never serialized.
	Tool dag.Tool `json:"-"`
}

// Registry maps tool ids to adapters. It implements dag.ToolResolver.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a tool.
//
// Outputs:
//
//	error - ErrInvalidEntry without id or adapter, ErrDuplicateTool when
//	        the id is taken.
func (r *Registry) Register(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}
	if e.Tool == nil {
		return fmt.Errorf("%w: tool %s has no adapter", ErrInvalidEntry, e.ID)
	}
	if e.Name == "" {
		e.Name = e.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, e.ID)
	}
	e.AcceptedFormats = append([]string(nil), e.AcceptedFormats...)
	r.entries[e.ID] = e
	return nil
}

// Resolve returns the adapter for toolID.
func (r *Registry) Resolve(toolID string) (dag.Tool, bool) {
	r.mu.RLock()
	e, ok := r.entries[toolID]
	r.mu.RUnlock()

	toolResolutions.WithLabelValues(toolID, fmt.Sprint(ok)).Inc()
	if !ok {
		return nil, false
	}
	return e.Tool, true
}

// Lookup returns the registered entry for toolID.
func (r *Registry) Lookup(toolID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[toolID]
	if ok {
		e.AcceptedFormats = append([]string(nil), e.AcceptedFormats...)
	}
	return e, ok
}

// List returns every entry sorted by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		e.AcceptedFormats = append([]string(nil), e.AcceptedFormats...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyCatalog overwrites the metadata of registered tools with the
// catalog's declarations. Catalog entries without a registered adapter are
// ignored; they are returned so callers can warn about them.
func (r *Registry) ApplyCatalog(cat *Catalog) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unbound []string
	for _, c := range cat.Entries() {
		e, ok := r.entries[c.ID]
		if !ok {
			unbound = append(unbound, c.ID)
			continue
		}
		e.Name = c.Name
		if c.Description != "" {
			e.Description = c.Description
		}
		e.AcceptedFormats = append([]string(nil), c.AcceptedFormats...)
		e.OutputFormat = c.OutputFormat
		r.entries[c.ID] = e
	}
	return unbound
}

// ApplyDefaults fills in formats a node leaves empty from its tool's entry.
// Nodes are copied; unknown tools are left alone.
func (r *Registry) ApplyDefaults(nodes []dag.Node) []dag.Node {
	out := make([]dag.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
		e, ok := r.Lookup(n.ToolID)
		if !ok {
			continue
		}
		if len(out[i].AcceptedFormats) == 0 {
			out[i].AcceptedFormats = e.AcceptedFormats
		}
		if out[i].OutputFormat == "" {
			out[i].OutputFormat = e.OutputFormat
		}
	}
	return out
}
