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
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingTool appends its node tag to every input and records calls.
type recordingTool struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	delay  time.Duration
	report []int
}

func (rt *recordingTool) Run(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error) {
	tag, _ := config["tag"].(string)

	rt.mu.Lock()
	rt.calls = append(rt.calls, tag)
	rt.mu.Unlock()

	for _, p := range rt.report {
		onProgress(p, "working")
	}

	if rt.delay > 0 {
		select {
		case <-time.After(rt.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := rt.fail[tag]; err != nil {
		return nil, err
	}

	var data []byte
	for _, in := range inputs {
		data = append(data, in.Bytes()...)
	}
	data = append(data, []byte(tag)...)
	return []Artifact{Blob(data)}, nil
}

func (rt *recordingTool) called() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.calls...)
}

func taggedNode(id string) Node {
	n := pdfNode(id)
	n.ToolID = "rec"
	n.Config = map[string]any{"tag": id}
	return n
}

func newTestExecutor(t *testing.T, tool Tool, opts ...Option) *Executor {
	t.Helper()
	e, err := NewExecutor(ToolMap{"rec": tool}, nil, opts...)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return e
}

func TestNewExecutor_NilResolver(t *testing.T) {
	if _, err := NewExecutor(nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NewExecutor(nil) error = %v, want ErrInvalidInput", err)
	}
}

func TestExecutor_NilArguments(t *testing.T) {
	e := newTestExecutor(t, &recordingTool{})

	//nolint:staticcheck // nil context on purpose
	if _, err := e.Execute(nil, NewRun("x", nil, nil)); !errors.Is(err, ErrNilContext) {
		t.Errorf("Execute(nil ctx) error = %v, want ErrNilContext", err)
	}
	if _, err := e.Execute(context.Background(), nil); !errors.Is(err, ErrNilRun) {
		t.Errorf("Execute(nil run) error = %v, want ErrNilRun", err)
	}
}

func TestExecutor_LinearRun(t *testing.T) {
	tool := &recordingTool{}
	e := newTestExecutor(t, tool)

	nodes := []Node{taggedNode("node1"), taggedNode("node2"), taggedNode("node3")}
	nodes[0].InputFiles = Artifacts{Named([]byte("in-"), "in.pdf")}
	edges := []Edge{edge("e1", "node1", "node2"), edge("e2", "node2", "node3")}

	run, result, err := e.Run(context.Background(), "linear", nodes, edges)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Outcome = %s, error = %s", result.Outcome, result.Error)
	}
	if !slices.Equal(result.Order, []string{"node1", "node2", "node3"}) {
		t.Errorf("Order = %v", result.Order)
	}
	if result.NodesExecuted != 3 {
		t.Errorf("NodesExecuted = %d, want 3", result.NodesExecuted)
	}
	if got := tool.called(); !slices.Equal(got, []string{"node1", "node2", "node3"}) {
		t.Errorf("tool calls = %v", got)
	}

	out, ok := run.Outputs("node3")
	if !ok || len(out) != 1 {
		t.Fatalf("Outputs(node3) = %v, %v", out, ok)
	}
	if got := string(out[0].Bytes()); got != "in-node1node2node3" {
		t.Errorf("node3 output = %q, want %q", got, "in-node1node2node3")
	}

	snap := run.Snapshot()
	if snap.Progress != 100 {
		t.Errorf("Progress = %d, want 100", snap.Progress)
	}
	for _, n := range snap.Nodes {
		if n.Status != StatusComplete || n.Progress != 100 {
			t.Errorf("node %s = %s/%d, want complete/100", n.ID, n.Status, n.Progress)
		}
	}

	// The caller's nodes are untouched.
	if nodes[0].Status != "" {
		t.Errorf("caller node status = %q, want unchanged", nodes[0].Status)
	}
}

func TestExecutor_RejectsCycleBeforeRunning(t *testing.T) {
	tool := &recordingTool{}
	e := newTestExecutor(t, tool)

	nodes := []Node{taggedNode("a"), taggedNode("b")}
	edges := []Edge{edge("e1", "a", "b"), edge("e2", "b", "a")}

	run, result, err := e.Run(context.Background(), "cyclic", nodes, edges)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("Run() error = %v, want ErrCycleDetected", err)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) || len(cycleErr.Remaining) != 2 {
		t.Errorf("error = %#v, want CycleError with 2 nodes", err)
	}
	if result.Outcome != OutcomeRejected {
		t.Errorf("Outcome = %s, want rejected", result.Outcome)
	}
	if len(tool.called()) != 0 {
		t.Errorf("tool called %v, want no calls", tool.called())
	}
	if run.Outcome() != OutcomeRejected {
		t.Errorf("run.Outcome() = %s, want rejected", run.Outcome())
	}
}

func TestExecutor_RejectsFormatMismatch(t *testing.T) {
	tool := &recordingTool{}
	e := newTestExecutor(t, tool)

	a := taggedNode("a")
	b := taggedNode("b")
	b.AcceptedFormats = []string{".jpg"}

	_, result, err := e.Run(context.Background(), "mismatch", []Node{a, b}, []Edge{edge("e1", "a", "b")})
	if !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("Run() error = %v, want ErrInvalidWorkflow", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || !vErr.Report.HasError(IssueFormat) {
		t.Errorf("error = %v, want ValidationError with format issue", err)
	}
	if !result.Report.HasError(IssueFormat) {
		t.Errorf("Result.Report = %+v", result.Report)
	}
	if len(tool.called()) != 0 {
		t.Errorf("tool called %v, want no calls", tool.called())
	}
}

func TestExecutor_FailureHaltsRun(t *testing.T) {
	boom := errors.New("conversion failed")
	tool := &recordingTool{fail: map[string]error{"b": boom}}
	e := newTestExecutor(t, tool)

	// c hangs off x, not b, but comes later in the order; it must not run.
	nodes := []Node{taggedNode("a"), taggedNode("x"), taggedNode("b"), taggedNode("c")}
	edges := []Edge{edge("e1", "a", "b"), edge("e2", "x", "c")}

	run, result, err := e.Run(context.Background(), "halt", nodes, edges)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for node failure", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", result.Outcome)
	}
	if result.FailedNode != "b" {
		t.Errorf("FailedNode = %q, want b", result.FailedNode)
	}
	if got := tool.called(); !slices.Equal(got, []string{"a", "x", "b"}) {
		t.Errorf("tool calls = %v, want [a x b]", got)
	}

	b, _ := run.Node("b")
	if b.Status != StatusError || b.Error != boom.Error() {
		t.Errorf("node b = %s %q", b.Status, b.Error)
	}
	c, _ := run.Node("c")
	if c.Status != StatusIdle {
		t.Errorf("node c status = %s, want idle", c.Status)
	}
	if _, ok := run.Outputs("b"); ok {
		t.Error("failed node has outputs")
	}
}

func TestExecutor_EmptyOutputFails(t *testing.T) {
	empty := ToolFunc(func(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error) {
		return nil, nil
	})
	e, err := NewExecutor(ToolMap{"rec": empty}, nil)
	if err != nil {
		t.Fatal(err)
	}

	run, result, _ := e.Run(context.Background(), "empty", []Node{taggedNode("a")}, nil)
	if result.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", result.Outcome)
	}
	a, _ := run.Node("a")
	if a.Error != ErrEmptyOutput.Error() {
		t.Errorf("node error = %q, want %q", a.Error, ErrEmptyOutput.Error())
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := newTestExecutor(t, &recordingTool{})
	n := taggedNode("a")
	n.ToolID = "missing"

	run, result, _ := e.Run(context.Background(), "unknown", []Node{n}, nil)
	if result.Outcome != OutcomeFailed || result.FailedNode != "a" {
		t.Errorf("result = %s/%s, want failed/a", result.Outcome, result.FailedNode)
	}
	a, _ := run.Node("a")
	if a.Status != StatusError {
		t.Errorf("status = %s, want error", a.Status)
	}
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	tool := &recordingTool{}
	e := newTestExecutor(t, tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	nodes, edges := []Node{taggedNode("a"), taggedNode("b")}, []Edge{edge("e1", "a", "b")}
	run, result, err := e.Run(ctx, "cancelled", nodes, edges)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for cancellation", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", result.Outcome)
	}
	if len(tool.called()) != 0 {
		t.Errorf("tool called %v", tool.called())
	}
	for _, n := range run.Snapshot().Nodes {
		if n.Status != StatusIdle {
			t.Errorf("node %s = %s, want idle", n.ID, n.Status)
		}
	}
}

func TestExecutor_CancelBetweenNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &recordingTool{}
	observer := func(ev Event) {
		if ev.Type == EventNodeCompleted && ev.NodeID == "a" {
			cancel()
		}
	}
	e := newTestExecutor(t, tool, WithObserver(observer))

	nodes := []Node{taggedNode("a"), taggedNode("b"), taggedNode("c")}
	edges := []Edge{edge("e1", "a", "b"), edge("e2", "b", "c")}

	run, result, err := e.Run(ctx, "cancel-mid", nodes, edges)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %s, want cancelled", result.Outcome)
	}
	if got := tool.called(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("tool calls = %v, want [a]", got)
	}
	a, _ := run.Node("a")
	b, _ := run.Node("b")
	if a.Status != StatusComplete || b.Status != StatusIdle {
		t.Errorf("statuses = %s/%s, want complete/idle", a.Status, b.Status)
	}
}

func TestExecutor_CancelDuringNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &recordingTool{delay: 5 * time.Second}
	observer := func(ev Event) {
		if ev.Type == EventNodeStarted {
			cancel()
		}
	}
	e := newTestExecutor(t, tool, WithObserver(observer))

	run, result, err := e.Run(ctx, "cancel-inside", []Node{taggedNode("a")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", result.Outcome)
	}
	a, _ := run.Node("a")
	if a.Status != StatusProcessing {
		t.Errorf("status = %s, want processing at interruption", a.Status)
	}
}

func TestExecutor_CancelledNodeWithoutOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := ToolFunc(func(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error) {
		cancel()
		return nil, nil
	})
	e, err := NewExecutor(ToolMap{"t": tool}, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	nodes := []Node{
		{ID: "a", ToolID: "t", AcceptedFormats: []string{".pdf"}, OutputFormat: ".pdf"},
		{ID: "b", ToolID: "t", AcceptedFormats: []string{".pdf"}, OutputFormat: ".pdf"},
	}
	edges := []Edge{{ID: "e1", Source: "a", Target: "b"}}
	run, result, err := e.Run(ctx, "cancel-empty", nodes, edges)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", result.Outcome)
	}
	if result.FailedNode != "" {
		t.Errorf("FailedNode = %q, want none", result.FailedNode)
	}
	if b, _ := run.Node("b"); b.Status != StatusIdle {
		t.Errorf("b status = %s, want idle", b.Status)
	}
}

func TestExecutor_NodeTimeout(t *testing.T) {
	tool := &recordingTool{delay: time.Second}
	e := newTestExecutor(t, tool, WithDefaultTimeout(20*time.Millisecond))

	run, result, _ := e.Run(context.Background(), "timeout", []Node{taggedNode("a")}, nil)
	if result.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", result.Outcome)
	}
	a, _ := run.Node("a")
	if a.Status != StatusError {
		t.Errorf("status = %s, want error", a.Status)
	}
	if !strings.Contains(a.Error, ErrNodeTimeout.Error()) {
		t.Errorf("error = %q, want timeout", a.Error)
	}
}

func TestExecutor_ProgressEvents(t *testing.T) {
	tool := &recordingTool{report: []int{-5, 40, 250}}

	var mu sync.Mutex
	var events []Event
	e := newTestExecutor(t, tool, WithObserver(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	_, result, err := e.Run(context.Background(), "progress", []Node{taggedNode("a"), taggedNode("b")}, []Edge{edge("e1", "a", "b")})
	if err != nil || !result.Success() {
		t.Fatalf("Run() = %v, %v", result, err)
	}

	var progress []int
	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.Type == EventNodeProgress && ev.NodeID == "a" {
			progress = append(progress, ev.NodeProgress)
		}
	}
	if !slices.Equal(progress, []int{0, 40, 100}) {
		t.Errorf("node a progress = %v, want clamped [0 40 100]", progress)
	}
	if types[0] != EventRunStarted || types[len(types)-1] != EventRunCompleted {
		t.Errorf("event types = %v", types)
	}
	last := events[len(events)-1]
	if last.Progress != 100 || last.Outcome != OutcomeSucceeded {
		t.Errorf("last event = %+v", last)
	}
}

func TestExecutor_LateProgressIgnored(t *testing.T) {
	var saved ProgressFunc
	tool := ToolFunc(func(ctx context.Context, inputs []Artifact, config map[string]any, onProgress ProgressFunc) ([]Artifact, error) {
		saved = onProgress
		return []Artifact{Blob([]byte("x"))}, nil
	})
	e, _ := NewExecutor(ToolMap{"rec": tool}, nil)

	run, _, _ := e.Run(context.Background(), "late", []Node{taggedNode("a")}, nil)
	saved(10, "too late")

	a, _ := run.Node("a")
	if a.Progress != 100 {
		t.Errorf("progress = %d, want 100 after late report", a.Progress)
	}
}

func TestExecutor_RerunResetsState(t *testing.T) {
	tool := &recordingTool{fail: map[string]error{"b": errors.New("first time")}}
	e := newTestExecutor(t, tool)

	run := NewRun("rerun", []Node{taggedNode("a"), taggedNode("b")}, []Edge{edge("e1", "a", "b")})
	if result, _ := e.Execute(context.Background(), run); result.Outcome != OutcomeFailed {
		t.Fatalf("first Outcome = %s, want failed", result.Outcome)
	}

	tool.mu.Lock()
	tool.fail = nil
	tool.mu.Unlock()

	result, err := e.Execute(context.Background(), run)
	if err != nil || !result.Success() {
		t.Fatalf("second Execute() = %+v, %v", result, err)
	}
	b, _ := run.Node("b")
	if b.Error != "" {
		t.Errorf("node b error = %q, want cleared", b.Error)
	}
}

func TestCollectInputFiles(t *testing.T) {
	rootA := Named([]byte("a"), "a.pdf")
	rootB := Named([]byte("b"), "b.pdf")

	t.Run("root node uses its input files", func(t *testing.T) {
		n := pdfNode("root")
		n.InputFiles = Artifacts{rootA, rootB}
		got := CollectInputFiles("root", []Node{n}, nil, NodeOutputs{})
		if !reflect.DeepEqual(got, []Artifact{rootA, rootB}) {
			t.Errorf("CollectInputFiles() = %v", got)
		}
	})

	t.Run("root without input files", func(t *testing.T) {
		got := CollectInputFiles("root", []Node{pdfNode("root")}, nil, NodeOutputs{})
		if got == nil || len(got) != 0 {
			t.Errorf("CollectInputFiles() = %#v, want empty non-nil", got)
		}
	})

	t.Run("single parent", func(t *testing.T) {
		named := Named([]byte("merged"), "merged.pdf")
		nodes := []Node{pdfNode("p"), pdfNode("c")}
		edges := []Edge{edge("e1", "p", "c")}
		got := CollectInputFiles("c", nodes, edges, NodeOutputs{"p": {named}})
		if !reflect.DeepEqual(got, []Artifact{named}) {
			t.Errorf("CollectInputFiles() = %v, want [%v]", got, named)
		}
	})

	t.Run("two parents in parent order", func(t *testing.T) {
		p1a, p1b := Blob([]byte("1a")), Blob([]byte("1b"))
		p2 := Named([]byte("2"), "two.pdf")
		nodes := []Node{pdfNode("p1"), pdfNode("p2"), pdfNode("c")}
		edges := []Edge{edge("e2", "p2", "c"), edge("e1", "p1", "c")}
		outputs := NodeOutputs{"p1": {p1a, p1b}, "p2": {p2}}

		got := CollectInputFiles("c", nodes, edges, outputs)
		want := []string{"2", "1a", "1b"}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i, w := range want {
			if string(got[i].Bytes()) != w {
				t.Errorf("got[%d] = %q, want %q", i, got[i].Bytes(), w)
			}
		}
	})

	t.Run("parent without outputs contributes nothing", func(t *testing.T) {
		nodes := []Node{pdfNode("p1"), pdfNode("p2"), pdfNode("c")}
		edges := []Edge{edge("e1", "p1", "c"), edge("e2", "p2", "c")}
		got := CollectInputFiles("c", nodes, edges, NodeOutputs{"p2": {rootA}})
		if !reflect.DeepEqual(got, []Artifact{rootA}) {
			t.Errorf("CollectInputFiles() = %v", got)
		}
	})
}
