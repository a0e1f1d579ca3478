// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Handlers serves the flow HTTP endpoints.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for svc. A nil logger uses slog.Default().
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request body", slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: "Invalid request body: " + err.Error(),
		Code:  CodeInvalidRequest,
	})
}

func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Request rejected", slog.String("code", resp.Code), slog.String("error", err.Error()))
	}
	c.JSON(status, resp)
}

// HandleValidate handles POST /v1/flow/validate.
//
// Description:
//
//	Returns the validation report of the workflow in the body. An invalid
//	workflow is still a 200; only malformed references are a 400.
func (h *Handlers) HandleValidate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleValidate")

	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	report, err := h.svc.Validate(req)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleValidateConnection handles POST /v1/flow/connections/validate.
func (h *Handlers) HandleValidateConnection(c *gin.Context) {
	logger := h.requestLogger(c, "HandleValidateConnection")

	var req ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, dag.ValidateConnection(req.Source, req.Target))
}

// HandleOrder handles POST /v1/flow/order.
func (h *Handlers) HandleOrder(c *gin.Context) {
	logger := h.requestLogger(c, "HandleOrder")

	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	resp, err := h.svc.Order(req)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleTools handles GET /v1/flow/tools.
func (h *Handlers) HandleTools(c *gin.Context) {
	c.JSON(http.StatusOK, ToolsResponse{Tools: h.svc.Tools()})
}

// HandleStartRun handles POST /v1/flow/runs.
//
// Description:
//
//	Validates the workflow and starts it in the background. Responds 202
//	with the run id; progress is read from GET /runs/:id or streamed from
//	GET /runs/:id/events. An invalid workflow is a 422 with the report.
func (h *Handlers) HandleStartRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStartRun")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	run, report, err := h.svc.StartRun(req)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("Run started",
		slog.String("run_id", run.ID()),
		slog.String("workflow", req.Name),
		slog.Int("nodes", len(req.Nodes)),
	)
	c.JSON(http.StatusAccepted, RunStartedResponse{RunID: run.ID(), Report: &report})
}

// HandleResumeRun handles POST /v1/flow/runs/:id/resume.
func (h *Handlers) HandleResumeRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleResumeRun")
	runID := c.Param("id")

	run, err := h.svc.ResumeRun(c.Request.Context(), runID)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("Run resumed", slog.String("run_id", run.ID()))
	c.JSON(http.StatusAccepted, RunStartedResponse{RunID: run.ID()})
}

// HandleListRuns handles GET /v1/flow/runs.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListRuns")

	resp, err := h.svc.ListRuns(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetRun handles GET /v1/flow/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetRun")

	snap, active, err := h.svc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, newRunView(snap, active))
}

// HandleCancelRun handles POST /v1/flow/runs/:id/cancel.
func (h *Handlers) HandleCancelRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCancelRun")
	runID := c.Param("id")

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, logger, err)
		return
	}
	if req.Message == "" {
		req.Message = "cancelled via API"
	}
	if err := h.svc.CancelRun(c.Request.Context(), runID, req.Message); err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
}

// HandleGetArtifact handles GET /v1/flow/runs/:id/artifacts/:node/:index.
func (h *Handlers) HandleGetArtifact(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetArtifact")

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "index must be an integer", Code: CodeInvalidRequest})
		return
	}
	artifact, err := h.svc.Artifact(c.Request.Context(), c.Param("id"), c.Param("node"), index)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if named, ok := artifact.(dag.NamedArtifact); ok && named.Filename != "" {
		c.Header("Content-Disposition", contentDisposition(named.Filename))
	}
	c.Data(http.StatusOK, "application/octet-stream", artifact.Bytes())
}

// contentDisposition quotes or encodes filename as needed.
func contentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

// HandleRunEvents handles GET /v1/flow/runs/:id/events.
//
// Description:
//
//	Upgrades to a websocket, sends a snapshot, then forwards run events
//	until the run ends, when a final snapshot is sent and the socket is
//	closed. A finished run gets its snapshot and an immediate close.
func (h *Handlers) HandleRunEvents(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRunEvents")
	runID := c.Param("id")
	ctx := c.Request.Context()

	// Subscribe before reading state so no event between the two is lost.
	events, unsubscribe := h.svc.Subscribe(runID)
	defer unsubscribe()

	snap, active, err := h.svc.Snapshot(ctx, runID)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	send := func(msg StreamMessage) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteJSON(msg); err != nil {
			logger.Debug("websocket write failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}
	closeStream := func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(wsWriteTimeout))
	}

	view := newRunView(snap, active)
	if !send(StreamMessage{Type: StreamSnapshot, Run: &view}) {
		return
	}
	if !active {
		closeStream()
		return
	}

	// The client never sends; reading only detects its disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if snap, _, err := h.svc.Snapshot(ctx, runID); err == nil {
					final := newRunView(snap, false)
					send(StreamMessage{Type: StreamSnapshot, Run: &final})
				}
				closeStream()
				return
			}
			if !send(StreamMessage{Type: StreamEvent, Event: &ev}) {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HandleHealth handles GET /v1/flow/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		ActiveRuns: h.svc.ActiveRuns(),
		Tools:      len(h.svc.Tools()),
	})
}
