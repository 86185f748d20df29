package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestIDHeader = "X-Request-ID"

func NewRouter(handler *handler.Handler, l logger.Logger, telemetryEnabled bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(requestID())

	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware())
	}

	r.Use(ginZapLogger(l))

	api := r.Group("/api")
	v1 := api.Group("/v1")

	v1.GET("/healthz", handler.Healthz)
	v1.GET("/tile/:z/:x/:y", handler.Tile)
	v1.GET("/tile/:z/:x/:y/status", handler.TileStatus)
	v1.POST("/tile/:z/:x/:y/prefetch", handler.Prefetch)
	v1.GET("/geo/pixel", handler.GeoPixel)
	v1.GET("/geo/position", handler.GeoPosition)
	v1.POST("/cache/flush", handler.CacheFlush)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// requestID keeps an incoming X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", l)
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), l))

		start := time.Now()

		c.Next()

		latency := time.Since(start)

		if c.Request.URL.Path == "/api/v1/healthz" {
			return
		}

		l.Info("request",
			"request_id", c.GetString("request_id"),
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
		)
	}
}
