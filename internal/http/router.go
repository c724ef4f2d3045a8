package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/villatrans/carnet-backend/internal/http/handlers"
	httpMW "github.com/villatrans/carnet-backend/internal/http/middleware"
)

type RouterConfig struct {
	GenerationHandler *httpH.GenerationHandler
	TemplateHandler   *httpH.TemplateHandler
	HealthHandler     *httpH.HealthHandler

	// StorageRoot, when set, is served under /storage for published
	// archives and documents.
	StorageRoot string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.StorageRoot != "" {
		r.Static("/storage", cfg.StorageRoot)
	}

	api := r.Group("/api")
	{
		if cfg.GenerationHandler != nil {
			api.POST("/carnets/batch", cfg.GenerationHandler.StartBatch)
			api.GET("/carnets/sessions/:token", cfg.GenerationHandler.Progress)
			api.GET("/carnets/sessions/:token/archive", cfg.GenerationHandler.DownloadArchive)
			api.POST("/drivers/:id/carnet", cfg.GenerationHandler.StartIndividual)
			api.GET("/drivers/:id/carnet", cfg.GenerationHandler.DownloadDriverCarnet)
			api.DELETE("/drivers/:id/carnet", cfg.GenerationHandler.DeleteDriverCarnet)
		}

		if cfg.TemplateHandler != nil {
			api.POST("/templates", cfg.TemplateHandler.Create)
			api.GET("/templates/active", cfg.TemplateHandler.GetActive)
			api.GET("/templates/:id", cfg.TemplateHandler.Get)
			api.POST("/templates/:id/activate", cfg.TemplateHandler.Activate)
		}
	}

	return r
}
