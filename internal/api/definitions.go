package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"flowd/internal/repository"
	"flowd/internal/validation"
)

// CreateDefinition validates and registers a workflow definition,
// subscribing its triggers.
// (POST /api/v1/definitions)
func (s *Server) CreateDefinition(c echo.Context) error {
	ctx := c.Request().Context()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	def, err := validation.ParseDefinition(raw)
	if err != nil {
		var cfgErr *validation.ConfigurationError
		if errors.As(err, &cfgErr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":      "definition rejected",
				"violations": cfgErr.Violations,
			})
		}
		return problem(c, http.StatusInternalServerError, "Validation failed", err.Error())
	}

	if err := s.defs.Save(ctx, def); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return problem(c, http.StatusConflict, "Definition exists", err.Error())
		}
		return problem(c, http.StatusInternalServerError, "Failed to save definition", err.Error())
	}
	if err := s.triggers.Register(def); err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to register triggers", err.Error())
	}

	return c.JSON(http.StatusCreated, def)
}

// ListDefinitions returns all registered definitions.
// (GET /api/v1/definitions)
func (s *Server) ListDefinitions(c echo.Context) error {
	defs, err := s.defs.List(c.Request().Context())
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to list definitions", err.Error())
	}
	return c.JSON(http.StatusOK, defs)
}

// GetDefinition returns one definition by id.
// (GET /api/v1/definitions/:id)
func (s *Server) GetDefinition(c echo.Context) error {
	def, err := s.defs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return problem(c, http.StatusNotFound, "Definition not found", err.Error())
		}
		return problem(c, http.StatusInternalServerError, "Failed to load definition", err.Error())
	}
	return c.JSON(http.StatusOK, def)
}
