package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewRouter sets up all Echo routes and middleware. The surface is meant
// for localhost use by dashboards and scripts; it reuses the caller's
// session identity and performs no authentication of its own.
func NewRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	e.GET("/health", h.Health)
	e.GET("/roles", h.ListRoles)
	e.POST("/transitions", h.RunTransition)

	return e
}
