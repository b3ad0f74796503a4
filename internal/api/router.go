package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/emirks/tercihify-chat/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// NewRouter builds the gin engine behind /api/ with request IDs, access logging and panic recovery
func NewRouter(log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(requestID(), accessLog(log), recovery(log))
	return router
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(log *logger.Logger) gin.HandlerFunc {
	log = log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("requestID"),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warnw("HTTP request failed", fields...)
			return
		}
		log.Debugw("HTTP request", fields...)
	}
}

func recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorw("Recovered HTTP handler panic",
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"panic", fmt.Sprint(rec),
					"stacktrace", string(debug.Stack()),
					"request_id", c.GetString("requestID"),
				)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
