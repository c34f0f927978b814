package api

import (
	"net/http"

	"go-config-runner/internal/api/handlers"
	authMiddleware "go-config-runner/internal/api/middleware"
	"go-config-runner/internal/config"
	"go-config-runner/internal/job"
	"go-config-runner/internal/logger"
	"go-config-runner/internal/monitor"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Services are what the API serves.
type Services struct {
	Jobs    *job.Manager
	Monitor *monitor.Monitor
	Hits    handlers.HitStore
	Proxies handlers.ProxyStore
	Hub     *Hub
}

func SetupRouter(svc Services, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(authMiddleware.RequestLogger(logger.WithComponent("api")))
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// API group with authentication
	api := e.Group("/api")
	if cfg.AuthEnabled() {
		api.Use(authMiddleware.BasicAuthMiddleware(cfg.Username, cfg.Password))
	}

	// Create handlers
	jobHandler := handlers.NewJobHandler(svc.Jobs, cfg.DefaultBots, cfg.MaxBots)
	hitHandler := handlers.NewHitHandler(svc.Jobs, svc.Hits)
	triggerHandler := handlers.NewTriggerHandler(svc.Monitor)
	proxyHandler := handlers.NewProxyHandler(svc.Proxies)

	// Register routes
	api.POST("/jobs", jobHandler.CreateJob)
	api.GET("/jobs", jobHandler.ListJobs)
	api.GET("/jobs/:id", jobHandler.GetJob)
	api.DELETE("/jobs/:id", jobHandler.DeleteJob)
	api.POST("/jobs/:id/start", jobHandler.StartJob)
	api.POST("/jobs/:id/pause", jobHandler.PauseJob)
	api.POST("/jobs/:id/resume", jobHandler.ResumeJob)
	api.POST("/jobs/:id/stop", jobHandler.StopJob)
	api.POST("/jobs/:id/abort", jobHandler.AbortJob)
	api.PUT("/jobs/:id/bots", jobHandler.SetBots)
	api.POST("/jobs/:id/proxies/reload", jobHandler.ReloadProxies)
	api.GET("/jobs/:id/hits", hitHandler.ListHits)
	api.GET("/jobs/:id/hits/export", hitHandler.ExportText)

	api.GET("/triggered-actions", triggerHandler.List)
	api.POST("/triggered-actions", triggerHandler.Create)
	api.PUT("/triggered-actions/:id", triggerHandler.Update)
	api.DELETE("/triggered-actions/:id", triggerHandler.Delete)
	api.POST("/triggered-actions/:id/enable", triggerHandler.Enable)
	api.POST("/triggered-actions/:id/disable", triggerHandler.Disable)
	api.POST("/triggered-actions/:id/reset", triggerHandler.Reset)

	api.POST("/proxies", proxyHandler.ImportProxies)
	api.GET("/proxies", proxyHandler.ListProxies)
	api.DELETE("/proxies/:id", proxyHandler.DeleteProxy)

	if svc.Hub != nil {
		api.GET("/ws", svc.Hub.ServeWs)
	}

	return e
}
