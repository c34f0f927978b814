package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go-config-runner/internal/database/models"
	"go-config-runner/internal/proxypool"

	"github.com/labstack/echo/v4"
)

type ProxyStore interface {
	Import(ctx context.Context, group string, proxies []proxypool.Proxy) (int, error)
	List(ctx context.Context, group string) ([]models.Proxy, error)
	Delete(ctx context.Context, id int64) error
}

type ProxyHandler struct {
	store ProxyStore
}

func NewProxyHandler(store ProxyStore) *ProxyHandler {
	return &ProxyHandler{
		store: store,
	}
}

type ImportProxiesRequest struct {
	Group string `json:"group"`
	// Type is assumed for lines without a scheme or prefix.
	Type  string   `json:"type"`
	Lines []string `json:"lines"`
	// Text is an alternative to Lines: a newline separated list.
	Text string `json:"text"`
}

// POST /api/proxies
func (h *ProxyHandler) ImportProxies(c echo.Context) error {
	var req ImportProxiesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Group == "" {
		return badRequest(c, "group is required")
	}
	defaultType, err := proxypool.ParseType(req.Type)
	if err != nil {
		return badRequest(c, err.Error())
	}

	lines := req.Lines
	if req.Text != "" {
		lines = append(lines, strings.Split(req.Text, "\n")...)
	}
	proxies, errs := proxypool.ParseLines(lines, defaultType)
	if len(proxies) == 0 {
		return badRequest(c, "no valid proxy lines")
	}

	added, err := h.store.Import(c.Request().Context(), req.Group, proxies)
	if err != nil {
		return errorJSON(c, err)
	}

	invalid := make([]string, 0, len(errs))
	for _, e := range errs {
		invalid = append(invalid, e.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"group":   req.Group,
		"added":   added,
		"parsed":  len(proxies),
		"invalid": invalid,
	})
}

// DELETE /api/proxies/:id
func (h *ProxyHandler) DeleteProxy(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid proxy ID")
	}

	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return errorJSON(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// GET /api/proxies?group=
func (h *ProxyHandler) ListProxies(c echo.Context) error {
	proxies, err := h.store.List(c.Request().Context(), c.QueryParam("group"))
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, proxies)
}
