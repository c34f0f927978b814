package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go-config-runner/internal/database/models"
	"go-config-runner/internal/job"

	"github.com/labstack/echo/v4"
)

type HitStore interface {
	ListHits(ctx context.Context, jobID string, limit, offset int) ([]models.Hit, error)
	CountHits(ctx context.Context, jobID string) (int64, error)
}

type HitHandler struct {
	manager *job.Manager
	hits    HitStore
}

func NewHitHandler(mgr *job.Manager, hits HitStore) *HitHandler {
	return &HitHandler{
		manager: mgr,
		hits:    hits,
	}
}

// GET /api/jobs/:id/hits?limit=&offset=
func (h *HitHandler) ListHits(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.manager.Get(id); err != nil {
		return errorJSON(c, err)
	}

	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return badRequest(c, "Invalid limit")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badRequest(c, "Invalid offset")
	}

	ctx := c.Request().Context()
	total, err := h.hits.CountHits(ctx, id)
	if err != nil {
		return errorJSON(c, err)
	}
	hits, err := h.hits.ListHits(ctx, id, limit, offset)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total": total,
		"hits":  hits,
	})
}

// GET /api/jobs/:id/hits/export?classification=
//
// One hit per line: the input followed by its captured values.
func (h *HitHandler) ExportText(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.manager.Get(id); err != nil {
		return errorJSON(c, err)
	}

	hits, err := h.hits.ListHits(c.Request().Context(), id, 0, 0)
	if err != nil {
		return errorJSON(c, err)
	}

	filter := c.QueryParam("classification")
	var lines []string
	for _, hit := range hits {
		if filter != "" && !strings.EqualFold(hit.Classification, filter) {
			continue
		}
		lines = append(lines, exportLine(hit))
	}

	text := strings.Join(lines, "\n")
	if len(lines) > 0 {
		text += "\n" // Add trailing newline
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+id+`-hits.txt"`)
	return c.String(http.StatusOK, text)
}

func exportLine(hit models.Hit) string {
	var b strings.Builder
	b.WriteString(hit.Input)

	names := make([]string, 0, len(hit.Captured))
	for name := range hit.Captured {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(" | ")
		b.WriteString(name)
		b.WriteString(" = ")
		b.WriteString(hit.Captured[name])
	}
	return b.String()
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
