// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the flow engine over HTTP.
//
// Runs started through the API execute in the background. Their progress is
// streamed over a websocket and, once finished, they are checkpointed to a
// run store so they can be inspected or resumed later.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFlow/services/flow/cancel"
	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/runstore"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flow_api_runs_total",
	Help: "Runs executed through the API by outcome",
}, []string{"outcome"})

// Config configures a Service.
type Config struct {
	// Registry resolves tool ids. Required.
	Registry *tools.Registry

	// Store receives checkpoints of finished runs. Default: MemoryStore.
	Store runstore.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// RunTimeout bounds runs that do not request their own. Zero means none.
	RunTimeout time.Duration

	// NodeTimeout is the executor's default per-node timeout.
	NodeTimeout time.Duration

	// ProgressRate and ProgressBurst throttle streamed progress events.
	ProgressRate  rate.Limit
	ProgressBurst int
}

// Service runs workflows in the background and tracks them.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	registry   *tools.Registry
	store      runstore.Store
	controller *cancel.Controller
	broker     *EventBroker
	executor   *dag.Executor
	logger     *slog.Logger
	runTimeout time.Duration

	mu     sync.RWMutex
	active map[string]*dag.Run
	wg     sync.WaitGroup
}

// NewService wires the executor, cancellation controller and event broker.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = runstore.NewMemoryStore()
	}
	limit := cfg.ProgressRate
	if limit == 0 {
		limit = DefaultProgressRate
	}

	broker := NewEventBroker(limit, cfg.ProgressBurst)
	executor, err := dag.NewExecutor(cfg.Registry, logger,
		dag.WithObserver(broker.Publish),
		dag.WithDefaultTimeout(cfg.NodeTimeout),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		registry:   cfg.Registry,
		store:      store,
		controller: cancel.NewController(logger),
		broker:     broker,
		executor:   executor,
		logger:     logger.With(slog.String("component", "flow_api")),
		runTimeout: cfg.RunTimeout,
		active:     make(map[string]*dag.Run),
	}, nil
}

// prepare checks references and fills in tool format defaults.
func (s *Service) prepare(req WorkflowRequest) ([]dag.Node, []dag.Edge, error) {
	if err := dag.CheckReferences(req.Nodes, req.Edges); err != nil {
		return nil, nil, err
	}
	return s.registry.ApplyDefaults(req.Nodes), req.Edges, nil
}

// Validate returns the validation report of a workflow.
func (s *Service) Validate(req WorkflowRequest) (dag.Report, error) {
	nodes, edges, err := s.prepare(req)
	if err != nil {
		return dag.Report{}, err
	}
	return dag.ValidateWorkflow(nodes, edges), nil
}

// Order returns the execution order of a workflow.
func (s *Service) Order(req WorkflowRequest) (OrderResponse, error) {
	if err := dag.CheckReferences(req.Nodes, req.Edges); err != nil {
		return OrderResponse{}, err
	}
	order, ok := dag.TopologicalSort(req.Nodes, req.Edges)
	return OrderResponse{Order: order, Acyclic: ok}, nil
}

// Tools lists the registered tools.
func (s *Service) Tools() []ToolInfo {
	entries := s.registry.List()
	out := make([]ToolInfo, 0, len(entries))
	for _, e := range entries {
		formats := e.AcceptedFormats
		if formats == nil {
			formats = []string{}
		}
		out = append(out, ToolInfo{
			ID:              e.ID,
			Name:            e.Name,
			Description:     e.Description,
			AcceptedFormats: formats,
			OutputFormat:    e.OutputFormat,
		})
	}
	return out
}

// StartRun validates a workflow and starts executing it in the background.
//
// Outputs:
//
//	*dag.Run - The started run.
//	dag.Report - The validation report, also on rejection.
//	error - A reference error, a *dag.ValidationError when the workflow is
//	        invalid, or cancel.ErrControllerClosed during shutdown.
func (s *Service) StartRun(req RunRequest) (*dag.Run, dag.Report, error) {
	nodes, edges, err := s.prepare(req.WorkflowRequest)
	if err != nil {
		return nil, dag.Report{}, err
	}
	report := dag.ValidateWorkflow(nodes, edges)
	if !report.IsValid {
		return nil, report, &dag.ValidationError{Report: report}
	}

	run := dag.NewRun(req.Name, nodes, edges)
	timeout := s.runTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if err := s.launch(run, timeout, false); err != nil {
		return nil, report, err
	}
	return run, report, nil
}

// ResumeRun restores a stored run and re-executes its incomplete nodes.
func (s *Service) ResumeRun(ctx context.Context, runID string) (*dag.Run, error) {
	if s.isActive(runID) {
		return nil, fmt.Errorf("%w: %s", cancel.ErrAlreadyRegistered, runID)
	}
	cp, err := s.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	run, err := cp.Restore()
	if err != nil {
		return nil, err
	}
	if run.Outcome() == dag.OutcomeSucceeded {
		return nil, fmt.Errorf("%w: %s", dag.ErrRunFinished, runID)
	}
	if err := s.launch(run, s.runTimeout, true); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) launch(run *dag.Run, timeout time.Duration, resume bool) error {
	id := run.ID()
	ctx, err := s.controller.RegisterWithTimeout(context.Background(), id, timeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.active[id] = run
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.controller.Release(id)

		var result *dag.Result
		var err error
		if resume {
			result, err = s.executor.Resume(ctx, run)
		} else {
			result, err = s.executor.Execute(ctx, run)
		}
		if err != nil {
			s.logger.Warn("run not executed", slog.String("run_id", id), slog.String("error", err.Error()))
		}
		if result != nil {
			runsTotal.WithLabelValues(string(result.Outcome)).Inc()
		}

		s.persist(run)

		// Leave the active set before closing subscriptions so a late
		// subscriber either sees the close or finds the run inactive.
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		s.broker.Close(id)
	}()
	return nil
}

func (s *Service) persist(run *dag.Run) {
	cp, err := dag.NewCheckpoint(run)
	if err == nil {
		err = s.store.Save(context.Background(), cp)
	}
	if err != nil {
		s.logger.Error("failed to store run", slog.String("run_id", run.ID()), slog.String("error", err.Error()))
	}
}

func (s *Service) isActive(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[runID]
	return ok
}

// Snapshot returns the current state of an active or stored run.
func (s *Service) Snapshot(ctx context.Context, runID string) (dag.Snapshot, bool, error) {
	s.mu.RLock()
	run, ok := s.active[runID]
	s.mu.RUnlock()
	if ok {
		return run.Snapshot(), true, nil
	}

	cp, err := s.store.Load(ctx, runID)
	if err != nil {
		return dag.Snapshot{}, false, err
	}
	return cp.Snapshot, false, nil
}

// ListRuns returns active registrations and stored summaries.
func (s *Service) ListRuns(ctx context.Context) (RunListResponse, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return RunListResponse{}, err
	}
	return RunListResponse{Active: s.controller.Active(), Stored: stored}, nil
}

// CancelRun cancels an active run with a user reason.
func (s *Service) CancelRun(ctx context.Context, runID, message string) error {
	err := s.controller.Cancel(runID, cancel.UserReason(message))
	if err == nil {
		return nil
	}
	// A stored run is finished, not missing.
	if _, loadErr := s.store.Load(ctx, runID); loadErr == nil {
		return fmt.Errorf("%w: %s", dag.ErrRunFinished, runID)
	}
	return err
}

// Artifact returns one output artifact of a run.
func (s *Service) Artifact(ctx context.Context, runID, nodeID string, index int) (dag.Artifact, error) {
	snap, _, err := s.Snapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	outs := snap.Outputs[nodeID]
	if index < 0 || index >= len(outs) {
		return nil, fmt.Errorf("%w: %s[%d]", ErrArtifactNotFound, nodeID, index)
	}
	return outs[index], nil
}

// Subscribe streams the events of a run. See EventBroker.Subscribe.
func (s *Service) Subscribe(runID string) (<-chan dag.Event, func()) {
	return s.broker.Subscribe(runID)
}

// ActiveRuns returns the number of runs in flight.
func (s *Service) ActiveRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Shutdown cancels every active run and waits for them to be stored.
func (s *Service) Shutdown(ctx context.Context) error {
	n := s.controller.Shutdown("server shutting down")
	s.logger.Info("shutting down flow service", slog.Int("cancelled_runs", n))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
