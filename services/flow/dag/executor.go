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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.flow")
	meter  = otel.Meter("aleutian.flow")
)

// errRunCancelled is returned internally when the token fires mid-node.
var errRunCancelled = errors.New("run cancelled")

// Executor runs workflows one node at a time in topological order.
//
// Description:
//
//	Nodes execute strictly sequentially. Before each node the cancellation
//	token (ctx) is checked; a fired token ends the run as cancelled without
//	touching the remaining nodes. The first adapter failure halts the run
//	and leaves the remaining nodes Idle.
//
// Thread Safety:
//
//	Executor is safe for concurrent use. Each Execute call must be given its
//	own Run.
type Executor struct {
	tools          ToolResolver
	logger         *slog.Logger
	observers      []Observer
	defaultTimeout time.Duration

	// Metrics (lazily initialized)
	metricsOnce   sync.Once
	nodeLatency   metric.Float64Histogram
	nodeSuccesses metric.Int64Counter
	nodeFailures  metric.Int64Counter
	activeNodes   metric.Int64UpDownCounter
	runLatency    metric.Float64Histogram
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver adds an observer that receives every event of every run.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithDefaultTimeout bounds adapter calls for nodes that have no Timeout of
// their own. Zero disables the bound.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewExecutor creates an executor that resolves adapters through tools.
//
// Inputs:
//
//	tools - Adapter lookup. Must not be nil.
//	logger - Logger for execution logs. If nil, uses slog.Default().
//	opts - Optional settings.
//
// Outputs:
//
//	*Executor - Ready to run workflows.
//	error - ErrInvalidInput if tools is nil.
func NewExecutor(tools ToolResolver, logger *slog.Logger, opts ...Option) (*Executor, error) {
	if tools == nil {
		return nil, fmt.Errorf("%w: tool resolver must not be nil", ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		tools:  tools,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var err error
		var initErrors []error

		e.nodeLatency, err = meter.Float64Histogram("flow_node_duration_seconds",
			metric.WithDescription("Time spent in each tool adapter call"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("flow_node_duration_seconds: %w", err))
		}

		e.nodeSuccesses, err = meter.Int64Counter("flow_node_success_total",
			metric.WithDescription("Number of nodes that completed"),
		)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("flow_node_success_total: %w", err))
		}

		e.nodeFailures, err = meter.Int64Counter("flow_node_failure_total",
			metric.WithDescription("Number of nodes that failed"),
		)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("flow_node_failure_total: %w", err))
		}

		e.activeNodes, err = meter.Int64UpDownCounter("flow_active_nodes",
			metric.WithDescription("Number of nodes currently processing"),
		)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("flow_active_nodes: %w", err))
		}

		e.runLatency, err = meter.Float64Histogram("flow_run_duration_seconds",
			metric.WithDescription("Total run execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("flow_run_duration_seconds: %w", err))
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some flow metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run builds a fresh Run for the workflow and executes it.
func (e *Executor) Run(ctx context.Context, name string, nodes []Node, edges []Edge) (*Run, *Result, error) {
	run := NewRun(name, nodes, edges)
	result, err := e.Execute(ctx, run)
	return run, result, err
}

// Execute validates and runs a workflow.
//
// Description:
//
//	Every node is reset to Idle and previous outputs are discarded. The
//	workflow is validated first; a cycle is rejected with *CycleError and
//	any other validation error with *ValidationError, in both cases before
//	any adapter runs. Otherwise nodes run in TopologicalSort order.
//
// Inputs:
//
//	ctx - Cancellation token. Must not be nil.
//	run - The run to execute. Must not be nil.
//
// Outputs:
//
//	*Result - Always non-nil when run is non-nil.
//	error - Non-nil only when the run was rejected or arguments are invalid.
//	        Node failures and cancellation are reported through Result.Outcome.
func (e *Executor) Execute(ctx context.Context, run *Run) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if run == nil {
		return nil, ErrNilRun
	}
	run.reset()
	return e.execute(ctx, run, false)
}

// Resume continues a run restored from a checkpoint.
//
// Description:
//
//	Complete nodes keep their outputs and are skipped. Every other node is
//	reset to Idle and executed in order, so descendants of a failed node
//	re-run with fresh inputs.
//
// Outputs:
//
//	*Result - NodesExecuted counts only the nodes run by this call.
//	error - ErrRunFinished if every node is already complete.
func (e *Executor) Resume(ctx context.Context, run *Run) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if run == nil {
		return nil, ErrNilRun
	}
	if run.allComplete() {
		return nil, ErrRunFinished
	}
	kept := run.resetIncomplete()
	e.logger.Info("resuming run",
		slog.String("run_id", run.ID()),
		slog.Int("completed_nodes", kept),
	)
	return e.execute(ctx, run, true)
}

func (e *Executor) execute(ctx context.Context, run *Run, resume bool) (*Result, error) {
	e.initMetrics()

	nodes, edges := run.workflow()
	spanName := "flow.Run"
	if resume {
		spanName = "flow.Run.Resume"
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("flow.run_id", run.ID()),
			attribute.String("flow.workflow", run.Name()),
			attribute.Int("flow.node_count", len(nodes)),
		),
	)
	defer span.End()

	start := time.Now()
	durations := make(map[string]time.Duration)

	report := ValidateWorkflow(nodes, edges)
	if !report.IsValid {
		var err error
		if report.HasError(IssueCycle) {
			err = NewCycleError(cycleNodes(report))
		} else {
			err = &ValidationError{Report: report}
		}
		run.finish(OutcomeRejected, "", err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "workflow rejected")
		e.logger.Warn("run rejected",
			slog.String("run_id", run.ID()),
			slog.Int("errors", len(report.Errors)),
			slog.String("error", err.Error()),
		)
		e.emit(run, Event{Type: EventRunRejected, Outcome: OutcomeRejected, Message: err.Error()})
		return e.buildResult(run, nil, report, start, durations, 0), err
	}

	order, _ := TopologicalSort(nodes, edges)

	run.begin()
	e.logger.Info("run started",
		slog.String("run_id", run.ID()),
		slog.String("workflow", run.Name()),
		slog.Int("nodes", len(nodes)),
		slog.Bool("resume", resume),
	)
	e.emit(run, Event{Type: EventRunStarted, Outcome: OutcomeRunning})

	executed := 0
	for _, id := range order {
		if resume && run.isComplete(id) {
			continue
		}

		if ctx.Err() != nil {
			return e.cancelled(ctx, span, run, order, report, start, durations, executed), nil
		}

		err := e.executeNode(ctx, run, id, durations)
		if errors.Is(err, errRunCancelled) {
			return e.cancelled(ctx, span, run, order, report, start, durations, executed), nil
		}
		executed++
		if err != nil {
			run.finish(OutcomeFailed, id, err.Error())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.recordRun(ctx, run, start)
			e.logger.Error("run failed",
				slog.String("run_id", run.ID()),
				slog.String("failed_node", id),
				slog.String("error", err.Error()),
			)
			e.emit(run, Event{Type: EventRunFailed, NodeID: id, Outcome: OutcomeFailed, Message: err.Error()})
			return e.buildResult(run, order, report, start, durations, executed), nil
		}
	}

	run.finish(OutcomeSucceeded, "", "")
	span.SetStatus(codes.Ok, "")
	e.recordRun(ctx, run, start)
	e.logger.Info("run completed",
		slog.String("run_id", run.ID()),
		slog.Duration("duration", time.Since(start)),
		slog.Int("nodes_executed", executed),
	)
	e.emit(run, Event{Type: EventRunCompleted, Outcome: OutcomeSucceeded})
	return e.buildResult(run, order, report, start, durations, executed), nil
}

// cancelled finishes a run whose token fired. Nodes already Processing stay
// that way; nodes never reached stay Idle.
func (e *Executor) cancelled(ctx context.Context, span trace.Span, run *Run, order []string,
	report Report, start time.Time, durations map[string]time.Duration, executed int) *Result {

	msg := context.Cause(ctx).Error()
	run.finish(OutcomeCancelled, "", msg)
	span.SetStatus(codes.Error, "run cancelled")
	e.logger.Info("run cancelled",
		slog.String("run_id", run.ID()),
		slog.String("reason", msg),
		slog.Int("nodes_executed", executed),
	)
	e.emit(run, Event{Type: EventRunCancelled, Outcome: OutcomeCancelled, Message: msg})
	return e.buildResult(run, order, report, start, durations, executed)
}

// executeNode runs a single node with observability.
func (e *Executor) executeNode(ctx context.Context, run *Run, nodeID string, durations map[string]time.Duration) error {
	node, _ := run.Node(nodeID)

	ctx, span := tracer.Start(ctx, "flow.Node",
		trace.WithAttributes(
			attribute.String("flow.node", nodeID),
			attribute.String("flow.tool", node.ToolID),
			attribute.String("flow.run_id", run.ID()),
		),
	)
	defer span.End()

	inputs := run.collectInputs(nodeID)

	run.setProcessing(nodeID)
	e.emit(run, Event{Type: EventNodeStarted, NodeID: nodeID, Status: StatusProcessing})
	e.logger.Debug("node starting",
		slog.String("node", nodeID),
		slog.String("tool", node.ToolID),
		slog.Int("inputs", len(inputs)),
	)

	tool, ok := e.tools.Resolve(node.ToolID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, node.ToolID)
		return e.failNode(ctx, span, run, nodeID, err, err.Error(), 0)
	}

	if e.activeNodes != nil {
		e.activeNodes.Add(ctx, 1)
		defer e.activeNodes.Add(ctx, -1)
	}

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	nodeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	onProgress := func(percent int, message string) {
		p := clampProgress(percent)
		if run.setProgress(nodeID, p) {
			e.emit(run, Event{
				Type:         EventNodeProgress,
				NodeID:       nodeID,
				Status:       StatusProcessing,
				NodeProgress: p,
				Message:      message,
			})
		}
	}

	start := time.Now()
	outputs, err := tool.Run(nodeCtx, inputs, node.Config, onProgress)
	duration := time.Since(start)
	durations[nodeID] = duration

	if e.nodeLatency != nil {
		e.nodeLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("tool", node.ToolID)),
		)
	}

	if (err != nil || len(outputs) == 0) && ctx.Err() != nil {
		span.SetStatus(codes.Error, "run cancelled")
		return errRunCancelled
	}

	if err == nil && len(outputs) == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		msg := err.Error()
		if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", ErrNodeTimeout, nodeID, timeout)
			msg = err.Error()
		} else if !errors.Is(err, ErrEmptyOutput) {
			err = fmt.Errorf("%w: %w", ErrNodeFailed, err)
		}
		return e.failNode(ctx, span, run, nodeID, err, msg, duration)
	}

	run.setComplete(nodeID, outputs)
	if e.nodeSuccesses != nil {
		e.nodeSuccesses.Add(ctx, 1,
			metric.WithAttributes(attribute.String("tool", node.ToolID)),
		)
	}
	span.SetStatus(codes.Ok, "")
	e.emit(run, Event{Type: EventNodeCompleted, NodeID: nodeID, Status: StatusComplete, NodeProgress: 100})
	e.logger.Info("node completed",
		slog.String("node", nodeID),
		slog.Duration("duration", duration),
		slog.Int("outputs", len(outputs)),
	)
	return nil
}

// failNode records a node failure. msg is what the node's Error field shows.
func (e *Executor) failNode(ctx context.Context, span trace.Span, run *Run, nodeID string,
	err error, msg string, duration time.Duration) error {

	run.setError(nodeID, msg)
	if e.nodeFailures != nil {
		node, _ := run.Node(nodeID)
		e.nodeFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("tool", node.ToolID)),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	e.logger.Error("node failed",
		slog.String("node", nodeID),
		slog.Duration("duration", duration),
		slog.String("error", err.Error()),
	)
	e.emit(run, Event{Type: EventNodeFailed, NodeID: nodeID, Status: StatusError, Message: msg})
	return NewNodeError(nodeID, err)
}

func (e *Executor) recordRun(ctx context.Context, run *Run, start time.Time) {
	if e.runLatency != nil {
		e.runLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("outcome", string(run.Outcome()))),
		)
	}
}

// emit fills in run-level fields and delivers ev to every observer.
func (e *Executor) emit(run *Run, ev Event) {
	if len(e.observers) == 0 {
		return
	}
	ev.RunID = run.ID()
	ev.Progress = run.Progress()
	ev.Time = time.Now()
	for _, o := range e.observers {
		o(ev)
	}
}

// buildResult constructs the execution result.
func (e *Executor) buildResult(run *Run, order []string, report Report, start time.Time,
	durations map[string]time.Duration, executed int) *Result {

	snap := run.Snapshot()
	if order == nil {
		order = []string{}
	}
	return &Result{
		RunID:         snap.RunID,
		Outcome:       snap.Outcome,
		Order:         order,
		FailedNode:    snap.FailedNode,
		Error:         snap.Error,
		Report:        report,
		NodesExecuted: executed,
		Duration:      time.Since(start),
		NodeDurations: durations,
		Outputs:       snap.Outputs,
	}
}

func cycleNodes(r Report) []string {
	for _, issue := range r.Errors {
		if issue.Type == IssueCycle {
			return issue.NodeIDs
		}
	}
	return nil
}
