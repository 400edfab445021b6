package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes. A nil metricsHandler leaves /metrics
// unregistered.
func SetupRoutes(handler *Handler, metricsHandler http.Handler) *gin.Engine {
	router := gin.New()
	// bot names contain an escaped owner/repo
	router.UseRawPath = true

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(handler.logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		bots := v1.Group("/bots")
		{
			bots.GET("", handler.GetBots)
			bots.GET("/:bot/runs", handler.GetBotRuns)
		}

		v1.GET("/work", handler.GetWorkUnits)
	}

	return router
}
