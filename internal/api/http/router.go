package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func NewRouter(healthController *HealthController, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", healthController.Health)
	router.GET("/status", healthController.Status)
	router.GET("/ready", healthController.Ready)
	router.GET("/last-run", healthController.LastRun)

	return router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
