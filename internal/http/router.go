package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router.
// An empty allowedOrigins list allows every origin; a nil metrics handler
// leaves /metrics unrouted.
func SetupRouter(handler *Handler, allowedOrigins []string, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(handler.logger))

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.GET("/tiles", handler.GetTiles)

	runs := v1.Group("/runs")
	runs.POST("", handler.StartRun)
	runs.GET("", handler.ListRuns)
	runs.GET("/:id", handler.GetRun)

	v1.GET("/artifacts", handler.GetArtifacts)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	return router
}
