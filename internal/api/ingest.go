package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// EventRequest is an incoming event-bus message. Runs always start with an
// empty execution context, so only the event name participates in matching;
// extra body fields are ignored.
type EventRequest struct {
	Name string `json:"name"`
}

// IngestEvent feeds an external event into the trigger evaluator and
// reports the runs it spawned.
// (POST /api/v1/events)
func (s *Server) IngestEvent(c echo.Context) error {
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.Name == "" {
		return problem(c, http.StatusBadRequest, "Invalid event", "event name is required")
	}

	runs := s.triggers.HandleEvent(c.Request().Context(), req.Name)
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": ids})
}

// MetricRequest is one sample from an external metric stream.
type MetricRequest struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// IngestMetric feeds a metric sample into the threshold triggers and
// reports the runs it spawned.
// (POST /api/v1/metrics)
func (s *Server) IngestMetric(c echo.Context) error {
	var req MetricRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	if req.Metric == "" {
		return problem(c, http.StatusBadRequest, "Invalid metric", "metric name is required")
	}

	runs := s.triggers.HandleMetric(c.Request().Context(), req.Metric, req.Value)
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": ids})
}
