package handlers

import (
	"net/http"

	"go-config-runner/internal/job"

	"github.com/labstack/echo/v4"
)

type JobHandler struct {
	manager     *job.Manager
	defaultBots int
	maxBots     int
}

func NewJobHandler(mgr *job.Manager, defaultBots, maxBots int) *JobHandler {
	return &JobHandler{
		manager:     mgr,
		defaultBots: defaultBots,
		maxBots:     maxBots,
	}
}

// JobView is a job's definition with its live snapshot.
type JobView struct {
	Definition job.Definition `json:"definition"`
	Snapshot   job.Snapshot   `json:"snapshot"`
}

func (h *JobHandler) view(j *job.Job) (JobView, error) {
	def, err := h.manager.Definition(j.ID())
	if err != nil {
		return JobView{}, err
	}
	return JobView{Definition: def, Snapshot: j.Snapshot()}, nil
}

// POST /api/jobs
func (h *JobHandler) CreateJob(c echo.Context) error {
	var def job.Definition
	if err := c.Bind(&def); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if def.Bots == 0 {
		def.Bots = h.defaultBots
	}
	if h.maxBots > 0 && def.Bots > h.maxBots {
		return badRequest(c, "bots exceeds the configured maximum")
	}

	j, err := h.manager.Create(c.Request().Context(), def)
	if err != nil {
		return errorJSON(c, err)
	}
	v, err := h.view(j)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c echo.Context) error {
	jobs := h.manager.List()
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		v, err := h.view(j)
		if err != nil {
			// deleted since List
			continue
		}
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, views)
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c echo.Context) error {
	j, err := h.manager.Get(c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	v, err := h.view(j)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// DELETE /api/jobs/:id
func (h *JobHandler) DeleteJob(c echo.Context) error {
	if err := h.manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /api/jobs/:id/start
func (h *JobHandler) StartJob(c echo.Context) error {
	id := c.Param("id")
	return h.command(c, id, h.manager.Start(c.Request().Context(), id))
}

// POST /api/jobs/:id/pause
func (h *JobHandler) PauseJob(c echo.Context) error {
	id := c.Param("id")
	return h.command(c, id, h.manager.Pause(id))
}

// POST /api/jobs/:id/resume
func (h *JobHandler) ResumeJob(c echo.Context) error {
	id := c.Param("id")
	return h.command(c, id, h.manager.Resume(id))
}

// POST /api/jobs/:id/stop
func (h *JobHandler) StopJob(c echo.Context) error {
	id := c.Param("id")
	return h.command(c, id, h.manager.Abort(id, true))
}

// POST /api/jobs/:id/abort
func (h *JobHandler) AbortJob(c echo.Context) error {
	id := c.Param("id")
	return h.command(c, id, h.manager.Abort(id, false))
}

type SetBotsRequest struct {
	Bots int `json:"bots"`
}

// PUT /api/jobs/:id/bots
func (h *JobHandler) SetBots(c echo.Context) error {
	var req SetBotsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if h.maxBots > 0 && req.Bots > h.maxBots {
		return badRequest(c, "bots exceeds the configured maximum")
	}
	id := c.Param("id")
	return h.command(c, id, h.manager.SetConcurrency(c.Request().Context(), id, req.Bots))
}

// POST /api/jobs/:id/proxies/reload
func (h *JobHandler) ReloadProxies(c echo.Context) error {
	n, err := h.manager.ReloadProxies(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{
		"proxies": n,
	})
}

// command answers with the job's snapshot after a successful command.
func (h *JobHandler) command(c echo.Context, id string, err error) error {
	if err != nil {
		return errorJSON(c, err)
	}
	snap, err := h.manager.Snapshot(id)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}
