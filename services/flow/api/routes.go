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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1/flow endpoints on rg.
//
// Endpoints:
//
//	POST /v1/flow/validate - Validation report of a workflow
//	POST /v1/flow/connections/validate - Check one prospective edge
//	POST /v1/flow/order - Execution order
//	GET  /v1/flow/tools - Registered tools
//	POST /v1/flow/runs - Start a run in the background
//	GET  /v1/flow/runs - Active and stored runs
//	GET  /v1/flow/runs/:id - Run state
//	POST /v1/flow/runs/:id/cancel - Cancel an active run
//	POST /v1/flow/runs/:id/resume - Resume a stored run
//	GET  /v1/flow/runs/:id/events - Websocket event stream
//	GET  /v1/flow/runs/:id/artifacts/:node/:index - Download an artifact
//	GET  /v1/flow/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	flow := rg.Group("/flow")
	{
		flow.POST("/validate", h.HandleValidate)
		flow.POST("/connections/validate", h.HandleValidateConnection)
		flow.POST("/order", h.HandleOrder)
		flow.GET("/tools", h.HandleTools)

		runs := flow.Group("/runs")
		{
			runs.POST("", h.HandleStartRun)
			runs.GET("", h.HandleListRuns)
			runs.GET("/:id", h.HandleGetRun)
			runs.POST("/:id/cancel", h.HandleCancelRun)
			runs.POST("/:id/resume", h.HandleResumeRun)
			runs.GET("/:id/events", h.HandleRunEvents)
			runs.GET("/:id/artifacts/:node/:index", h.HandleGetArtifact)
		}

		flow.GET("/health", h.HandleHealth)
	}
}

// NewRouter builds the gin engine with tracing middleware and, when metrics
// is non-nil, a /metrics endpoint.
func NewRouter(h *Handlers, serviceName string, metrics http.Handler) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}
