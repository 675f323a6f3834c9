package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"flowd/internal/engine"
	"flowd/internal/repository"
)

// StartRun fires a run of a definition directly, outside its triggers.
// (POST /api/v1/definitions/:id/runs)
func (s *Server) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	def, err := s.defs.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return problem(c, http.StatusNotFound, "Definition not found", err.Error())
		}
		return problem(c, http.StatusInternalServerError, "Failed to load definition", err.Error())
	}

	run, err := s.eng.StartRun(ctx, def, "manual")
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to start run", err.Error())
	}
	return c.JSON(http.StatusCreated, run)
}

// GetRun returns the current state of one run, including per-step status.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	run, err := s.eng.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return problem(c, http.StatusNotFound, "Run not found", err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns returns runs, optionally filtered by definition id.
// (GET /api/v1/runs?definition_id=)
func (s *Server) ListRuns(c echo.Context) error {
	runs, err := s.eng.ListRuns(c.Request().Context(), c.QueryParam("definition_id"))
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to list runs", err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

// CancelRun cancels a non-terminal run.
// (POST /api/v1/runs/:id/cancel)
func (s *Server) CancelRun(c echo.Context) error {
	err := s.eng.Cancel(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, engine.ErrRunNotFound):
		return problem(c, http.StatusNotFound, "Run not found", err.Error())
	case errors.Is(err, engine.ErrRunTerminal):
		return problem(c, http.StatusConflict, "Run already terminal", err.Error())
	default:
		return problem(c, http.StatusInternalServerError, "Failed to cancel run", err.Error())
	}
}

// DecisionRequest is the payload for resolving an approval gate.
type DecisionRequest struct {
	Decision string         `json:"decision"`
	Comments string         `json:"comments,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

// SubmitDecision resolves an approval gate on a suspended run.
// (POST /api/v1/runs/:id/steps/:stepId/decision)
func (s *Server) SubmitDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	err := s.eng.SubmitDecision(c.Request().Context(), c.Param("id"), c.Param("stepId"),
		engine.Decision(req.Decision), req.Comments, req.Outputs)
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, engine.ErrRunNotFound):
		return problem(c, http.StatusNotFound, "Run not found", err.Error())
	case errors.Is(err, engine.ErrRunTerminal), errors.Is(err, engine.ErrNotAwaitingApproval):
		return problem(c, http.StatusConflict, "Run not awaiting approval", err.Error())
	default:
		return problem(c, http.StatusBadRequest, "Invalid decision", err.Error())
	}
}
