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
	"slices"
	"strings"
	"testing"
)

func TestValidateConnection(t *testing.T) {
	pdf := Node{ID: "merge", OutputFormat: ".pdf"}
	jpgOnly := Node{ID: "resize", AcceptedFormats: []string{".jpg"}}
	multi := Node{ID: "compress", AcceptedFormats: []string{".jpg", ".pdf"}}

	if res := ValidateConnection(pdf, multi); !res.Valid || res.Message != "" {
		t.Errorf("ValidateConnection(pdf, multi) = %+v, want valid", res)
	}

	res := ValidateConnection(pdf, jpgOnly)
	if res.Valid {
		t.Fatal("ValidateConnection(pdf, jpgOnly) is valid, want invalid")
	}
	for _, want := range []string{".pdf", ".jpg", "not compatible"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("message %q does not mention %q", res.Message, want)
		}
	}

	// Exact match only.
	upper := Node{ID: "x", AcceptedFormats: []string{".PDF"}}
	if ValidateConnection(pdf, upper).Valid {
		t.Error("ValidateConnection() matched formats case-insensitively")
	}
}

func TestValidateWorkflow_Empty(t *testing.T) {
	report := ValidateWorkflow(nil, nil)

	if report.IsValid {
		t.Error("IsValid = true, want false")
	}
	if len(report.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(report.Errors))
	}
	if report.Errors[0].Type != IssueMissingInput {
		t.Errorf("Errors[0].Type = %s, want %s", report.Errors[0].Type, IssueMissingInput)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", report.Warnings)
	}
}

func TestValidateWorkflow_Cycle(t *testing.T) {
	nodes, edges := linearWorkflow()
	edges = append(edges, edge("e3", "node3", "node1"))

	report := ValidateWorkflow(nodes, edges)
	if report.IsValid {
		t.Fatal("IsValid = true, want false")
	}
	if report.Errors[0].Type != IssueCycle {
		t.Errorf("Errors[0].Type = %s, want %s", report.Errors[0].Type, IssueCycle)
	}
	if !slices.Equal(report.Errors[0].NodeIDs, []string{"node1", "node2", "node3"}) {
		t.Errorf("cycle NodeIDs = %v", report.Errors[0].NodeIDs)
	}
}

func TestValidateWorkflow_CycleSkipsFormatChecks(t *testing.T) {
	a := Node{ID: "a", AcceptedFormats: []string{".jpg"}, OutputFormat: ".pdf"}
	b := Node{ID: "b", AcceptedFormats: []string{".jpg"}, OutputFormat: ".pdf"}
	edges := []Edge{edge("e1", "a", "b"), edge("e2", "b", "a")}

	report := ValidateWorkflow([]Node{a, b}, edges)
	if len(report.Errors) != 1 || report.Errors[0].Type != IssueCycle {
		t.Errorf("Errors = %+v, want a single cycle error", report.Errors)
	}
}

func TestValidateWorkflow_CycleStillWarns(t *testing.T) {
	nodes := []Node{pdfNode("root1"), pdfNode("root2"), pdfNode("x"), pdfNode("y")}
	edges := []Edge{edge("e1", "x", "y"), edge("e2", "y", "x"), edge("e3", "root1", "x")}

	report := ValidateWorkflow(nodes, edges)
	if !report.HasError(IssueCycle) {
		t.Errorf("Errors = %+v, want cycle", report.Errors)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Type != IssueMultipleInputs {
		t.Errorf("Warnings = %+v, want multiple-inputs", report.Warnings)
	}
}

func TestValidateWorkflow_Format(t *testing.T) {
	source := Node{ID: "merge", AcceptedFormats: []string{".pdf"}, OutputFormat: ".pdf"}
	target := Node{ID: "resize", AcceptedFormats: []string{".jpg"}, OutputFormat: ".jpg"}
	sink := Node{ID: "zip", AcceptedFormats: []string{".pdf"}, OutputFormat: ".zip"}
	edges := []Edge{edge("bad1", "merge", "resize"), edge("ok", "merge", "zip"), edge("bad2", "resize", "zip")}

	report := ValidateWorkflow([]Node{source, target, sink}, edges)
	if report.IsValid {
		t.Fatal("IsValid = true, want false")
	}
	if len(report.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2: %+v", len(report.Errors), report.Errors)
	}
	for i, wantEdge := range []string{"bad1", "bad2"} {
		if report.Errors[i].Type != IssueFormat {
			t.Errorf("Errors[%d].Type = %s, want format", i, report.Errors[i].Type)
		}
		if report.Errors[i].EdgeID != wantEdge {
			t.Errorf("Errors[%d].EdgeID = %s, want %s", i, report.Errors[i].EdgeID, wantEdge)
		}
	}
}

func TestValidateWorkflow_MultipleInputsIsWarningOnly(t *testing.T) {
	nodes := []Node{pdfNode("a"), pdfNode("b"), pdfNode("c")}
	edges := []Edge{edge("e1", "a", "c"), edge("e2", "b", "c")}

	report := ValidateWorkflow(nodes, edges)
	if !report.IsValid {
		t.Errorf("IsValid = false, errors = %+v", report.Errors)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1", len(report.Warnings))
	}
	w := report.Warnings[0]
	if w.Type != IssueMultipleInputs || !slices.Equal(w.NodeIDs, []string{"a", "b"}) {
		t.Errorf("Warnings[0] = %+v", w)
	}
}

func TestValidateWorkflow_Valid(t *testing.T) {
	nodes, edges := linearWorkflow()
	report := ValidateWorkflow(nodes, edges)
	if !report.IsValid || len(report.Errors) != 0 || len(report.Warnings) != 0 {
		t.Errorf("ValidateWorkflow() = %+v, want clean report", report)
	}
}

func TestCalculateProgress(t *testing.T) {
	tests := []struct {
		name     string
		progress []int
		want     int
	}{
		{"empty", nil, 0},
		{"all idle", []int{0, 0, 0}, 0},
		{"all complete", []int{100, 100}, 100},
		{"mixed", []int{100, 50, 0}, 50},
		{"rounds half up", []int{1, 0}, 1},
		{"rounds down", []int{33, 33, 34, 0}, 25},
		{"two thirds", []int{100, 100, 0}, 67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := make([]Node, len(tt.progress))
			for i, p := range tt.progress {
				nodes[i] = Node{ID: string(rune('a' + i)), Progress: p}
			}
			if got := CalculateProgress(nodes); got != tt.want {
				t.Errorf("CalculateProgress() = %d, want %d", got, tt.want)
			}
		})
	}
}
