// Package api exposes the grading dashboard over HTTP and websockets.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the Gin engine with the dashboard routes and middlewares.
func NewRouter(h *Handler, hub *Hub, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/devices", h.ListDevices)
		api.GET("/devices/:device/live", h.LiveView)
		api.GET("/devices/:device/summaries/:date", h.DailySummary)
		api.POST("/devices/:device/batches", h.SaveBatch)
		api.POST("/devices/:device/clear-errors", h.ClearErrors)

		api.GET("/batches", h.ListBatches)
		api.GET("/batches/export.csv", h.ExportBatches)
		api.GET("/batches/:id", h.GetBatch)
		api.DELETE("/batches/:id", h.DeleteBatch)

		api.GET("/notifications", h.ListNotifications)
		api.PATCH("/notifications/:id/read", h.MarkNotificationRead)
		api.POST("/notifications/read-all", h.MarkAllNotificationsRead)
		api.DELETE("/notifications/:id", h.DeleteNotification)
		api.DELETE("/notifications", h.DeleteAllNotifications)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)
	}

	if hub != nil {
		r.GET("/ws/live/:device", h.ServeLive(hub))
		r.GET("/ws/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, hub.Stats())
		})
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
