// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the tool registry, the format catalog and the
// built-in tool adapters for Aleutian Flow.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use.
package tools

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxCatalogFileSize is the maximum allowed catalog file size (1MB).
	MaxCatalogFileSize = 1024 * 1024

	// MaxToolsInCatalog is the maximum number of tools a catalog may declare.
	MaxToolsInCatalog = 200

	// MaxFormatsPerTool is the maximum accepted formats per tool.
	MaxFormatsPerTool = 50
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

var (
	catalogLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_catalog_load_errors_total",
		Help: "Total tool catalog load errors",
	})

	catalogLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flow_catalog_load_duration_seconds",
		Help:    "Duration of tool catalog loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

var catalogTracer = otel.Tracer("aleutian.flow.tools")

// =============================================================================
// Types
// =============================================================================

// catalogYAML is the root structure for YAML deserialization.
type catalogYAML struct {
	Tools []catalogEntryYAML `yaml:"tools"`
}

type catalogEntryYAML struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	AcceptedFormats []string `yaml:"accepted_formats"`
	OutputFormat    string   `yaml:"output_format,omitempty"`
}

// CatalogEntry declares the formats of one tool.
type CatalogEntry struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	AcceptedFormats []string `json:"accepted_formats"`

	// OutputFormat is empty when the output format depends on the input.
	OutputFormat string `json:"output_format,omitempty"`
}

// Catalog is an immutable set of tool format declarations.
type Catalog struct {
	entries map[string]CatalogEntry
	source  string
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog(ctx context.Context) (*Catalog, error) {
	cat, err := parseCatalog(ctx, defaultCatalogYAML)
	if err != nil {
		return nil, err
	}
	cat.source = "embedded"
	return cat, nil
}

// LoadCatalog loads a catalog file, or the embedded default when path is empty.
//
// Description:
//
//	An external file replaces the embedded catalog entirely. The file is
//	size-checked before it is read.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	path - Catalog YAML file. Empty selects the embedded catalog.
//
// Outputs:
//
//	*Catalog - The parsed catalog. Never nil on success.
//	error - Non-nil if the file cannot be read or is invalid.
func LoadCatalog(ctx context.Context, path string) (*Catalog, error) {
	if ctx == nil {
		return nil, fmt.Errorf("LoadCatalog: ctx must not be nil")
	}

	ctx, span := catalogTracer.Start(ctx, "tools.LoadCatalog",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	startTime := time.Now()
	defer func() {
		catalogLoadDuration.Observe(time.Since(startTime).Seconds())
	}()

	if path == "" {
		return DefaultCatalog(ctx)
	}

	data, err := readCatalogFile(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		catalogLoadErrors.Inc()
		return nil, err
	}

	cat, err := parseCatalog(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		catalogLoadErrors.Inc()
		return nil, fmt.Errorf("parsing tool catalog %s: %w", path, err)
	}
	cat.source = path

	span.SetAttributes(attribute.Int("tool_count", len(cat.entries)))
	slog.Info("tool catalog loaded",
		slog.String("path", path),
		slog.Int("tool_count", len(cat.entries)),
	)
	return cat, nil
}

func readCatalogFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	if info.Size() > MaxCatalogFileSize {
		return nil, fmt.Errorf("catalog file too large: %d bytes (max %d)", info.Size(), MaxCatalogFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return data, nil
}

func parseCatalog(ctx context.Context, data []byte) (*Catalog, error) {
	_, span := catalogTracer.Start(ctx, "tools.ParseCatalog")
	defer span.End()

	var raw catalogYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	if len(raw.Tools) > MaxToolsInCatalog {
		return nil, fmt.Errorf("too many tools: %d (max %d)", len(raw.Tools), MaxToolsInCatalog)
	}

	cat := &Catalog{entries: make(map[string]CatalogEntry, len(raw.Tools))}
	for i, t := range raw.Tools {
		if t.ID == "" {
			return nil, fmt.Errorf("tool at index %d has empty id", i)
		}
		if _, dup := cat.entries[t.ID]; dup {
			return nil, fmt.Errorf("tool %s declared twice", t.ID)
		}
		if len(t.AcceptedFormats) > MaxFormatsPerTool {
			return nil, fmt.Errorf("tool %s has too many formats: %d (max %d)",
				t.ID, len(t.AcceptedFormats), MaxFormatsPerTool)
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		cat.entries[t.ID] = CatalogEntry{
			ID:              t.ID,
			Name:            name,
			Description:     t.Description,
			AcceptedFormats: append([]string(nil), t.AcceptedFormats...),
			OutputFormat:    t.OutputFormat,
		}
	}

	span.SetAttributes(attribute.Int("tool_count", len(cat.entries)))
	return cat, nil
}

// Lookup returns the declaration for a tool.
func (c *Catalog) Lookup(id string) (CatalogEntry, bool) {
	if c == nil {
		return CatalogEntry{}, false
	}
	e, ok := c.entries[id]
	return e, ok
}

// Entries returns every declaration sorted by id.
func (c *Catalog) Entries() []CatalogEntry {
	if c == nil {
		return []CatalogEntry{}
	}
	out := make([]CatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Source is "embedded" or the path the catalog was read from.
func (c *Catalog) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}
