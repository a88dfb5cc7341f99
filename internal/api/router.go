// Package api wires the HTTP surface: one POST per command plus the read
// endpoints over the projections.
package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/socialsync/internal/api/handler"
	"github.com/d60-Lab/socialsync/internal/api/middleware"
)

// NewRouter 注册全部路由
func NewRouter(h *handler.Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logger(), gzip.Gzip(gzip.DefaultCompression))
	if serviceName != "" {
		r.Use(otelgin.Middleware(serviceName))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	v1 := r.Group("/api/v1")
	{
		v1.POST("/commands/:type", h.Command)

		v1.GET("/feeds/:name", h.ReadFeed)
		v1.GET("/posts/:id/counters", h.PostCounters)
		v1.GET("/search/:kind/:id", h.SearchEntry)

		notifications := v1.Group("/notifications")
		notifications.GET("", h.ListNotifications)
		notifications.GET("/unread_count", h.UnreadCount)
		notifications.POST("/read", h.MarkRead)

		admin := v1.Group("/admin")
		admin.GET("/dispatcher", h.DispatcherStats)
		admin.POST("/records/:seq/requeue", h.Requeue)
		admin.POST("/reconcile", h.Reconcile)
	}
	return r
}
