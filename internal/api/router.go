// Package api exposes the audit services over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine. gatherer backs /metrics; nil uses the
// default registry.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) *gin.Engine {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.MaxMultipartMemory = 32 << 20

	r.GET("/healthz", func(c *gin.Context) {
		success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/clauses/compile", h.CompileClauses)

		controls := v1.Group("/controls")
		{
			controls.GET("", h.ListInstructions)
			controls.POST("/:id/instruction", h.SaveInstruction)
			controls.GET("/:id/instruction", h.GetInstruction)
			controls.POST("/:id/evaluate", h.Evaluate)
			controls.GET("/:id/reports/:run", h.GetReport)
		}

		sessions := v1.Group("/chat/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("/:id", h.GetSession)
			sessions.POST("/:id/messages", h.SendMessage)
			sessions.DELETE("/:id", h.DeleteSession)
		}
	}
	return r
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request", attrs...)
	}
}
