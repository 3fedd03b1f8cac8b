package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"vn.io.arda/pim/internal/application"
	"vn.io.arda/pim/internal/domain"
	"vn.io.arda/pim/internal/selection"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	session *application.Session
}

// NewHandler creates a new Handler.
func NewHandler(session *application.Session) *Handler {
	return &Handler{session: session}
}

// ListRoles GET /roles — runs a fresh discovery pass and returns the
// unified catalog.
func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.session.Discover(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data":  roles,
		"count": len(roles),
	})
}

type transitionRequest struct {
	Action        string `json:"action"`
	Selection     string `json:"selection"`
	Justification string `json:"justification"`
}

// RunTransition POST /transitions — runs one transition batch.
func (h *Handler) RunTransition(c echo.Context) error {
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	action, ok := parseAction(req.Action)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "action must be activate, deactivate, or reactivate")
	}
	if req.Selection == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "selection is required")
	}

	report, invalid, err := h.session.Transition(c.Request().Context(), action, req.Selection, req.Justification)
	if errors.Is(err, selection.ErrNoneSelected) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"error":           "no valid roles selected",
			"rejected_tokens": invalid,
		})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"report":          report,
		"rejected_tokens": invalid,
	})
}

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}

func parseAction(s string) (domain.Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "activate":
		return domain.ActionActivate, true
	case "deactivate":
		return domain.ActionDeactivate, true
	case "reactivate":
		return domain.ActionReactivate, true
	}
	return "", false
}
