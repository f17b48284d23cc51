package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netops/api/handler"
	"github.com/sshcollectorpro/netops/pkg/logger"
)

// SetupRouter 设置路由
func SetupRouter(mode string, runs *handler.RunHandler, jobs *handler.JobHandler) *gin.Engine {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "netops",
			"status": "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", runs.Health)

		v1.GET("/runs", runs.ListRuns)
		v1.GET("/runs/:id", runs.GetRun)

		v1.GET("/jobs", jobs.ListJobs)
		v1.POST("/jobs/:name", jobs.RunJob)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     statusCode,
			"duration":   time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if statusCode >= 400 {
			entry.Warn("HTTP Error")
			return
		}
		entry.Info("HTTP Request")
	}
}
