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
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
	"github.com/AleutianAI/AleutianFlow/services/flow/sink"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

func renderReport(p *ux.Printer, name string, rep dag.Report) {
	p.Title("Workflow " + name)
	for _, issue := range rep.Errors {
		p.Row(ux.IconError, "error", string(issue.Type), issue.Message)
	}
	for _, issue := range rep.Warnings {
		p.Row(ux.IconWarning, "warning", string(issue.Type), issue.Message)
	}
	if rep.IsValid {
		p.Success(fmt.Sprintf("valid (%d warnings)", len(rep.Warnings)))
	} else {
		p.Error(fmt.Sprintf("invalid: %d errors, %d warnings", len(rep.Errors), len(rep.Warnings)))
	}
}

func renderOrder(p *ux.Printer, order []string, acyclic bool) {
	if !acyclic {
		p.Error("workflow contains a cycle")
		return
	}
	if p.Machine() {
		for i, id := range order {
			p.Row(ux.IconBullet, strconv.Itoa(i+1), id)
		}
		return
	}
	p.Info(strings.Join(order, " "+string(ux.IconArrow)+" "))
}

func renderTools(p *ux.Printer, entries []tools.Entry) {
	p.Title("Tools")
	for _, e := range entries {
		accepts := strings.Join(e.AcceptedFormats, ",")
		if accepts == "" {
			accepts = "*"
		}
		output := e.OutputFormat
		if output == "" {
			output = "(input)"
		}
		p.Row(ux.IconBullet, e.ID, accepts, output, e.Description)
	}
}

// progressObserver prints executor events as they happen.
type progressObserver struct {
	p  *ux.Printer
	mu sync.Mutex
}

func newProgressObserver(p *ux.Printer) *progressObserver {
	return &progressObserver{p: p}
}

// Observe implements dag.Observer.
func (o *progressObserver) Observe(ev dag.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.p
	if p.Machine() {
		p.Row(ux.IconBullet, string(ev.Type), ev.NodeID, strconv.Itoa(ev.Progress), ev.Message)
		return
	}
	switch ev.Type {
	case dag.EventRunStarted:
		p.Muted("run " + ev.RunID)
	case dag.EventNodeStarted:
		p.Row(ux.IconRunning, ev.NodeID, "started")
	case dag.EventNodeProgress:
		p.Row(ux.IconPending, ev.NodeID, p.ProgressBar(ev.NodeProgress, 20))
	case dag.EventNodeCompleted:
		p.Row(ux.IconSuccess, ev.NodeID, "complete", p.ProgressBar(ev.Progress, 20))
	case dag.EventNodeFailed:
		p.Row(ux.IconError, ev.NodeID, ev.Message)
	}
}

func renderResult(p *ux.Printer, res *dag.Result) {
	summary := fmt.Sprintf("%s in %s (%d nodes run)",
		res.Outcome, res.Duration.Round(time.Millisecond), res.NodesExecuted)
	switch res.Outcome {
	case dag.OutcomeSucceeded:
		p.Success(summary)
	case dag.OutcomeRejected:
		p.Error(summary)
		for _, issue := range res.Report.Errors {
			p.Row(ux.IconError, string(issue.Type), issue.Message)
		}
	default:
		detail := res.Error
		if res.FailedNode != "" {
			detail = res.FailedNode + ": " + detail
		}
		p.ErrorBox(summary, detail)
	}
}

func renderExport(p *ux.Printer, files []sink.File) {
	for _, f := range files {
		p.Row(ux.IconSuccess, f.Location, f.NodeID, strconv.Itoa(f.Size))
	}
	if !p.Machine() {
		p.Success(fmt.Sprintf("exported %d files", len(files)))
	}
}
