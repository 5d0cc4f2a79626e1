package handlers

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func parseCorsOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS"))
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// requestLogger logs one line per request through the service logger.
func requestLogger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level.Info(logger).Log(
			"msg", "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func SetupRouter(h *BookingHandler, logger log.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	origins := parseCorsOrigins()
	allowCredentials := true
	for _, origin := range origins {
		if origin == "*" {
			allowCredentials = false
			break
		}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-User-Id", "X-Admin-Id"},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		bookings := api.Group("/bookings")
		{
			bookings.POST("", h.Submit)
			bookings.GET("/my", h.MyBookings)
			bookings.GET("/pending", h.Pending)
			bookings.POST("/:id/decision", h.Decide)
			bookings.POST("/:id/cancel", h.Cancel)
			bookings.POST("/:id/release", h.Release)
		}
		accommodations := api.Group("/accommodations")
		{
			accommodations.PUT("", h.SyncAccommodation)
			accommodations.GET("/:id/stats", h.Stats)
		}
	}

	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/payment-verified", h.PaymentVerified)
		webhooks.POST("/payment-overdue", h.PaymentOverdue)
	}

	return r
}
