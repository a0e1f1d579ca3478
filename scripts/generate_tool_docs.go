// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build ignore

// generate_tool_docs generates a markdown reference for a flow tool catalog.
//
// Usage:
//
//	go run scripts/generate_tool_docs.go > docs/flow/tool_reference.md
//	go run scripts/generate_tool_docs.go path/to/catalog.yaml > reference.md
//
// The generated documentation includes:
//   - Tool inventory with accepted and produced formats
//   - A compatibility matrix of which tool can feed which
//   - Summary statistics
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

func main() {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cat, err := tools.LoadCatalog(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading catalog: %v\n", err)
		os.Exit(1)
	}

	generateMarkdown(os.Stdout, cat)
}

func generateMarkdown(w io.Writer, cat *tools.Catalog) {
	entries := cat.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	fmt.Fprintln(w, "# Flow Tool Reference")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "> Generated from the %s catalog on %s. Do not edit by hand.\n\n",
		cat.Source(), time.Now().Format("2006-01-02"))

	fmt.Fprintln(w, "## Tools")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Tool | Name | Accepts | Produces | Description |")
	fmt.Fprintln(w, "|------|------|---------|----------|-------------|")
	for _, e := range entries {
		produces := e.OutputFormat
		if produces == "" {
			produces = "_node-defined_"
		}
		fmt.Fprintf(w, "| `%s` | %s | %s | %s | %s |\n",
			e.ID, e.Name, codeList(e.AcceptedFormats), produces, e.Description)
	}
	fmt.Fprintln(w)

	generateMatrix(w, entries)
	generateStats(w, entries)
}

// generateMatrix marks which tool's output a downstream tool accepts.
// Tools without a fixed output format are shown as "?".
func generateMatrix(w io.Writer, entries []tools.CatalogEntry) {
	fmt.Fprintln(w, "## Compatibility")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Rows are upstream tools, columns downstream tools.")
	fmt.Fprintln(w)

	header := []string{"upstream \\ downstream"}
	for _, e := range entries {
		header = append(header, "`"+e.ID+"`")
	}
	fmt.Fprintln(w, "| "+strings.Join(header, " | ")+" |")
	fmt.Fprintln(w, "|"+strings.Repeat("---|", len(header)))

	for _, src := range entries {
		row := []string{"`" + src.ID + "`"}
		for _, tgt := range entries {
			if src.OutputFormat == "" {
				row = append(row, "?")
				continue
			}
			res := dag.ValidateConnection(
				dag.Node{ID: src.ID, OutputFormat: src.OutputFormat},
				dag.Node{ID: tgt.ID, AcceptedFormats: tgt.AcceptedFormats},
			)
			if res.Valid {
				row = append(row, "✓")
			} else {
				row = append(row, "")
			}
		}
		fmt.Fprintln(w, "| "+strings.Join(row, " | ")+" |")
	}
	fmt.Fprintln(w)
}

func generateStats(w io.Writer, entries []tools.CatalogEntry) {
	formats := make(map[string]int)
	for _, e := range entries {
		for _, f := range e.AcceptedFormats {
			formats[f]++
		}
	}
	keys := make([]string, 0, len(formats))
	for f := range formats {
		keys = append(keys, f)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "## Summary")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- **Tools:** %d\n", len(entries))
	fmt.Fprintf(w, "- **Formats accepted:** %d\n", len(keys))
	for _, f := range keys {
		fmt.Fprintf(w, "  - `%s` by %d tools\n", f, formats[f])
	}
}

func codeList(items []string) string {
	if len(items) == 0 {
		return "_any_"
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = "`" + s + "`"
	}
	return strings.Join(out, " ")
}
