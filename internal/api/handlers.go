// Package api contains the HTTP handlers for the workflow engine REST API.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"flowd/internal/engine"
	"flowd/internal/logging"
	"flowd/internal/repository"
	"flowd/internal/trigger"
)

// Server holds the dependencies for the API server.
type Server struct {
	defs     repository.DefinitionStore
	eng      *engine.Engine
	triggers *trigger.Evaluator
	logger   *logging.Logger
}

// NewServer creates a new Server.
func NewServer(defs repository.DefinitionStore, eng *engine.Engine, triggers *trigger.Evaluator, logger *logging.Logger) *Server {
	return &Server{defs: defs, eng: eng, triggers: triggers, logger: logger}
}

// Register mounts the API routes on the given group.
func (s *Server) Register(g *echo.Group) {
	g.POST("/definitions", s.CreateDefinition)
	g.GET("/definitions", s.ListDefinitions)
	g.GET("/definitions/:id", s.GetDefinition)
	g.POST("/definitions/:id/runs", s.StartRun)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.POST("/runs/:id/cancel", s.CancelRun)
	g.POST("/runs/:id/steps/:stepId/decision", s.SubmitDecision)
	g.POST("/events", s.IngestEvent)
	g.POST("/metrics", s.IngestMetric)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "flowd",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// problem writes an RFC 7807 Problem Details JSON error response.
func problem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
