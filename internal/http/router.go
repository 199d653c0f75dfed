package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.ngs.io/wxgrid/internal/usecase"
)

// SetupRouter creates and configures the Gin router.
func SetupRouter(svc *usecase.Service) *gin.Engine {

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()

	// Default to allow all origins if none are configured.
	if origins := svc.Config().Server.CORSAllowedOrigins; len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}

	router.Use(cors.New(corsConfig))

	// Create handler.
	handler := NewHandler(svc)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.GET("/info", handler.GetInfo)
	v1.GET("/grids/:name", handler.GetGrid)
	v1.GET("/sample", handler.GetSample)
	v1.POST("/ensemble", handler.PostEnsemble)
	v1.POST("/analyze", handler.PostAnalyze)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
