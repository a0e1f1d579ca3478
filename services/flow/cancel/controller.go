// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cancel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cancelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_cancel_total",
		Help: "Total run cancellations by type",
	}, []string{"type"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_cancel_active_runs",
		Help: "Number of runs registered with the cancellation controller",
	})
)

type runEntry struct {
	cancel    context.CancelCauseFunc
	timer     *time.Timer
	state     State
	reason    *Reason
	startTime time.Time
}

// Controller owns the cancellation tokens of in-flight runs.
//
// Thread Safety: Safe for concurrent use.
type Controller struct {
	logger *slog.Logger

	mu     sync.Mutex
	runs   map[string]*runEntry
	closed bool
}

// NewController creates a controller.
//
// Inputs:
//   - logger: Logger for cancellation events. If nil, uses slog.Default().
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger: logger.With(slog.String("component", "cancel_controller")),
		runs:   make(map[string]*runEntry),
	}
}

// Register creates the cancellation token for a run.
//
// Description:
//
//	The returned context is cancelled when the parent is, when Cancel or
//	CancelAll is called for the run, or by Shutdown. Callers must call
//	Release when the run ends.
//
// Inputs:
//   - parent: Parent context. Must not be nil.
//   - runID: The run id. Must be unique among registered runs.
//
// Outputs:
//   - context.Context: The run's token.
//   - error: ErrNilContext, ErrControllerClosed or ErrAlreadyRegistered.
func (c *Controller) Register(parent context.Context, runID string) (context.Context, error) {
	return c.RegisterWithTimeout(parent, runID, 0)
}

// RegisterWithTimeout is Register with a run deadline. When it passes the
// run is cancelled with a CancelTimeout reason. Zero disables the deadline.
func (c *Controller) RegisterWithTimeout(parent context.Context, runID string, timeout time.Duration) (context.Context, error) {
	if parent == nil {
		return nil, ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrControllerClosed
	}
	if _, ok := c.runs[runID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, runID)
	}

	ctx, cancel := context.WithCancelCause(parent)
	entry := &runEntry{
		cancel:    cancel,
		state:     StateRunning,
		startTime: time.Now(),
	}
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() {
			_ = c.Cancel(runID, Reason{
				Type:      CancelTimeout,
				Message:   fmt.Sprintf("run exceeded %s", timeout),
				Component: "controller",
			})
		})
	}
	c.runs[runID] = entry
	activeRuns.Inc()

	c.logger.Debug("run registered", slog.String("run_id", runID))
	return ctx, nil
}

// Cancel fires a run's token.
//
// Outputs:
//   - error: ErrRunNotFound if the run is not registered,
//     ErrAlreadyCancelled on a second call.
func (c *Controller) Cancel(runID string, reason Reason) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if entry.state == StateCancelled {
		return fmt.Errorf("%w: %s", ErrAlreadyCancelled, runID)
	}
	c.cancelLocked(runID, entry, reason)
	return nil
}

func (c *Controller) cancelLocked(runID string, entry *runEntry, reason Reason) {
	if reason.Timestamp.IsZero() {
		reason.Timestamp = time.Now()
	}
	entry.state = StateCancelled
	entry.reason = &reason
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.cancel(&reason)
	cancelTotal.WithLabelValues(reason.Type.String()).Inc()

	c.logger.Info("cancelling run",
		slog.String("run_id", runID),
		slog.String("type", reason.Type.String()),
		slog.String("message", reason.Message),
	)
}

// CancelAll fires every running token and returns how many were cancelled.
func (c *Controller) CancelAll(reason Reason) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelAllLocked(reason)
}

func (c *Controller) cancelAllLocked(reason Reason) int {
	n := 0
	for id, entry := range c.runs {
		if entry.state == StateRunning {
			c.cancelLocked(id, entry, reason)
			n++
		}
	}
	if n > 0 {
		c.logger.Warn("cancelled all runs",
			slog.Int("count", n),
			slog.String("type", reason.Type.String()),
		)
	}
	return n
}

// Release forgets a finished run and frees its context.
func (c *Controller) Release(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.runs[runID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.cancel(nil)
	delete(c.runs, runID)
	activeRuns.Dec()
}

// State returns a snapshot of a registered run.
func (c *Controller) State(runID string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.runs[runID]
	if !ok {
		return Status{}, false
	}
	return entry.status(runID), true
}

// Active returns the status of every registered run sorted by start time.
func (c *Controller) Active() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.runs))
	for id, entry := range c.runs {
		out = append(out, entry.status(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Shutdown cancels every run with a CancelShutdown reason and refuses new
// registrations. It is safe to call more than once.
func (c *Controller) Shutdown(message string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.cancelAllLocked(Reason{Type: CancelShutdown, Message: message, Component: "controller"})
}

func (e *runEntry) status(runID string) Status {
	s := Status{
		RunID:     runID,
		State:     e.state.String(),
		StartTime: e.startTime,
		Duration:  time.Since(e.startTime),
	}
	if e.reason != nil {
		s.Reason = e.reason.Error()
	}
	return s
}
