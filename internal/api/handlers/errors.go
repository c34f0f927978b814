package handlers

import (
	"errors"
	"net/http"

	"go-config-runner/internal/classify"
	"go-config-runner/internal/database"
	"go-config-runner/internal/job"
	"go-config-runner/internal/monitor"

	"github.com/labstack/echo/v4"
)

// errorJSON maps domain errors to status codes. A rejected job command also
// reports the state the job was in.
func errorJSON(c echo.Context, err error) error {
	var stateErr *job.StateError
	if errors.As(err, &stateErr) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error":  err.Error(),
			"status": string(stateErr.Current),
		})
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, job.ErrNotFound), errors.Is(err, monitor.ErrNotFound), errors.Is(err, database.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, job.ErrInvalid), errors.Is(err, monitor.ErrInvalid),
		errors.Is(err, job.ErrInvalidBots), errors.Is(err, classify.ErrConfigNotFound):
		code = http.StatusBadRequest
	case errors.Is(err, job.ErrNoProxies), errors.Is(err, job.ErrNoData), errors.Is(err, job.ErrNoProxySrc):
		code = http.StatusUnprocessableEntity
	}
	return c.JSON(code, map[string]string{
		"error": err.Error(),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}
