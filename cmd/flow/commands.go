// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/cancel"
	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/sink"
	"github.com/AleutianAI/AleutianFlow/services/flow/telemetry"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
	"github.com/AleutianAI/AleutianFlow/services/flow/workflowfile"
)

// app holds the state shared by every command once flags are parsed.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	outputMode string

	cfg     Config
	logger  *logging.Logger
	printer *ux.Printer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "flow",
		Short:         "Validate and run document-pipeline workflows",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Flags().Changed("config"))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigFile, "Config file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.outputMode, "output", "", "Output style: full, minimal, machine (default: detect terminal)")

	root.AddCommand(
		newValidateCmd(a),
		newOrderCmd(a),
		newRunCmd(a),
		newResumeCmd(a),
		newToolsCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(explicitConfig bool) error {
	cfg, err := loadConfig(a.configPath, explicitConfig)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "flow",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
		Output:  a.stderr,
	})

	personality := ux.ParsePersonalityLevel(a.outputMode)
	if a.outputMode == "" {
		f, _ := a.stdout.(*os.File)
		personality = ux.DetectPersonality(f)
	}
	a.printer = ux.NewPrinter(a.stdout, a.stderr, personality)
	return nil
}

func (a *app) slog() *slog.Logger {
	return a.logger.Slog()
}

func (a *app) registry(ctx context.Context) (*tools.Registry, error) {
	cat, err := tools.LoadCatalog(ctx, expandHome(a.cfg.Catalog))
	if err != nil {
		return nil, err
	}
	return tools.NewDefaultRegistry(cat)
}

func (a *app) loadWorkflow(ctx context.Context, path string) (*workflowfile.Workflow, *tools.Registry, error) {
	reg, err := a.registry(ctx)
	if err != nil {
		return nil, nil, err
	}
	wf, err := workflowfile.Load(path, reg)
	if err != nil {
		return nil, nil, &exitError{code: exitInvalid, err: err}
	}
	return wf, reg, nil
}

// startTelemetry initializes tracing and metrics for a command and returns
// a shutdown function that never blocks longer than five seconds.
func (a *app) startTelemetry(ctx context.Context) (func(), error) {
	shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.slog().Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow for cycles, format mismatches and missing inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, _, err := a.loadWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rep := dag.ValidateWorkflow(wf.Nodes, wf.Edges)
			renderReport(a.printer, wf.Name, rep)
			if !rep.IsValid {
				return &exitError{code: exitInvalid}
			}
			return nil
		},
	}
}

func newOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "order <file>",
		Short: "Print the execution order of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, _, err := a.loadWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			order, ok := dag.TopologicalSort(wf.Nodes, wf.Edges)
			renderOrder(a.printer, order, ok)
			if !ok {
				return &exitError{code: exitInvalid}
			}
			return nil
		},
	}
}

func newToolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools and their formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			renderTools(a.printer, reg.List())
			return nil
		},
	}
}

// runOptions are the flags shared by run, resume and watch.
type runOptions struct {
	out         string
	checkpoint  string
	credentials string
	timeout     time.Duration
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.out, "out", "", "Export outputs to a directory or gs://bucket/prefix")
	cmd.Flags().StringVar(&o.checkpoint, "checkpoint", "", "Write a checkpoint of the finished run to this path")
	cmd.Flags().StringVar(&o.credentials, "credentials", "", "Service account JSON for gs:// exports")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Cancel the run after this long (default: server.run_timeout)")
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a workflow and optionally export its outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopTelemetry, err := a.startTelemetry(ctx)
			if err != nil {
				return err
			}
			defer stopTelemetry()

			wf, reg, err := a.loadWorkflow(ctx, args[0])
			if err != nil {
				return err
			}
			run := dag.NewRun(wf.Name, wf.Nodes, wf.Edges)
			return a.executeRun(ctx, reg, run, opts, false)
		},
	}
	opts.bind(cmd)
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "resume <checkpoint> [file]",
		Short: "Re-run the incomplete nodes of a checkpointed run",
		Long: "Resume restores a checkpoint and runs every node that did not complete.\n" +
			"When a workflow file is given, the checkpoint must describe the same nodes.\n" +
			"The checkpoint is rewritten in place unless --checkpoint names another path.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopTelemetry, err := a.startTelemetry(ctx)
			if err != nil {
				return err
			}
			defer stopTelemetry()

			cp, err := dag.LoadCheckpoint(args[0])
			if err != nil {
				return err
			}
			run, err := cp.Restore()
			if err != nil {
				return err
			}

			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				wf, err := workflowfile.Load(args[1], reg)
				if err != nil {
					return &exitError{code: exitInvalid, err: err}
				}
				if err := matchWorkflow(run.Snapshot(), wf); err != nil {
					return &exitError{code: exitInvalid, err: err}
				}
			}
			if opts.checkpoint == "" {
				opts.checkpoint = args[0]
			}
			return a.executeRun(ctx, reg, run, opts, true)
		},
	}
	opts.bind(cmd)
	return cmd
}

// matchWorkflow checks that wf has the same nodes and tools as snap.
func matchWorkflow(snap dag.Snapshot, wf *workflowfile.Workflow) error {
	if len(snap.Nodes) != len(wf.Nodes) {
		return fmt.Errorf("checkpoint has %d nodes, workflow has %d", len(snap.Nodes), len(wf.Nodes))
	}
	toolOf := make(map[string]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		toolOf[n.ID] = n.ToolID
	}
	for _, n := range wf.Nodes {
		tool, ok := toolOf[n.ID]
		if !ok {
			return fmt.Errorf("node %q is not in the checkpoint", n.ID)
		}
		if tool != n.ToolID {
			return fmt.Errorf("node %q uses tool %q in the checkpoint, %q in the workflow", n.ID, tool, n.ToolID)
		}
	}
	return nil
}

// executeRun runs or resumes run under a cancellation controller, then
// writes the checkpoint and exports outputs as requested.
func (a *app) executeRun(ctx context.Context, reg *tools.Registry, run *dag.Run, opts runOptions, resume bool) error {
	logger := a.slog()
	observer := newProgressObserver(a.printer)
	exec, err := dag.NewExecutor(reg, logger,
		dag.WithObserver(observer.Observe),
		dag.WithDefaultTimeout(a.cfg.Server.NodeTimeout),
	)
	if err != nil {
		return err
	}

	timeout := opts.timeout
	if timeout == 0 {
		timeout = a.cfg.Server.RunTimeout
	}
	controller := cancel.NewController(logger)
	runCtx, err := controller.RegisterWithTimeout(context.WithoutCancel(ctx), run.ID(), timeout)
	if err != nil {
		return err
	}
	defer controller.Release(run.ID())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			controller.CancelAll(cancel.Reason{Type: cancel.CancelUser, Message: "interrupted", Component: "cli"})
		case <-done:
		}
	}()

	var res *dag.Result
	if resume {
		res, err = exec.Resume(runCtx, run)
		if errors.Is(err, dag.ErrRunFinished) {
			a.printer.Info("every node is already complete; nothing to resume")
			return nil
		}
	} else {
		res, err = exec.Execute(runCtx, run)
	}
	if res == nil {
		return err
	}
	renderResult(a.printer, res)
	if res.Outcome == dag.OutcomeRejected {
		return &exitError{code: exitInvalid, err: err}
	}

	if opts.checkpoint != "" {
		cp, err := dag.NewCheckpoint(run)
		if err != nil {
			return err
		}
		if err := dag.SaveCheckpoint(cp, opts.checkpoint); err != nil {
			return err
		}
		a.printer.Muted("checkpoint written to " + opts.checkpoint)
	}

	if res.Outcome != dag.OutcomeSucceeded {
		return &exitError{code: exitFailure, err: fmt.Errorf("run %s: %s", res.Outcome, res.Error)}
	}

	if opts.out != "" {
		s, err := sink.Open(ctx, opts.out, opts.credentials)
		if err != nil {
			return err
		}
		defer sink.Close(s)
		files, err := sink.Export(ctx, s, run.Snapshot(), logger)
		if err != nil {
			return err
		}
		renderExport(a.printer, files)
	}
	return nil
}

func newWatchCmd(a *app) *cobra.Command {
	var opts runOptions
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Run a workflow again every time its file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopTelemetry, err := a.startTelemetry(ctx)
			if err != nil {
				return err
			}
			defer stopTelemetry()

			path := args[0]
			runOnce := func(ctx context.Context, _ string) {
				wf, reg, err := a.loadWorkflow(ctx, path)
				if err != nil {
					a.printer.Error(err.Error())
					return
				}
				run := dag.NewRun(wf.Name, wf.Nodes, wf.Edges)
				if err := a.executeRun(ctx, reg, run, opts, false); err != nil {
					var ee *exitError
					if !errors.As(err, &ee) || ee.err != nil {
						a.printer.Error(err.Error())
					}
				}
			}

			w, err := workflowfile.NewWatcher(path, runOnce, &workflowfile.WatcherOptions{
				Debounce: debounce,
				Logger:   a.slog(),
			})
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			runOnce(ctx, path)
			a.printer.Muted("watching " + path + " (Ctrl-C to stop)")
			<-ctx.Done()
			return nil
		},
	}
	opts.bind(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "Wait this long after the last change before running")
	return cmd
}
