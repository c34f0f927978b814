package handlers

import (
	"net/http"

	"go-config-runner/internal/monitor"

	"github.com/labstack/echo/v4"
)

type TriggerHandler struct {
	monitor *monitor.Monitor
}

func NewTriggerHandler(mon *monitor.Monitor) *TriggerHandler {
	return &TriggerHandler{
		monitor: mon,
	}
}

// GET /api/triggered-actions
func (h *TriggerHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.List())
}

// POST /api/triggered-actions
func (h *TriggerHandler) Create(c echo.Context) error {
	var ta monitor.TriggeredAction
	if err := c.Bind(&ta); err != nil {
		return badRequest(c, "Invalid request body")
	}
	created, err := h.monitor.Create(c.Request().Context(), ta)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// PUT /api/triggered-actions/:id
func (h *TriggerHandler) Update(c echo.Context) error {
	var ta monitor.TriggeredAction
	if err := c.Bind(&ta); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ta.ID = c.Param("id")
	updated, err := h.monitor.Update(c.Request().Context(), ta)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DELETE /api/triggered-actions/:id
func (h *TriggerHandler) Delete(c echo.Context) error {
	if err := h.monitor.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /api/triggered-actions/:id/enable
func (h *TriggerHandler) Enable(c echo.Context) error {
	return h.respond(c, h.monitor.Enable(c.Request().Context(), c.Param("id")))
}

// POST /api/triggered-actions/:id/disable
func (h *TriggerHandler) Disable(c echo.Context) error {
	return h.respond(c, h.monitor.Disable(c.Request().Context(), c.Param("id")))
}

// POST /api/triggered-actions/:id/reset
func (h *TriggerHandler) Reset(c echo.Context) error {
	return h.respond(c, h.monitor.ResetFired(c.Param("id")))
}

func (h *TriggerHandler) respond(c echo.Context, err error) error {
	if err != nil {
		return errorJSON(c, err)
	}
	ta, err := h.monitor.Get(c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, ta)
}
