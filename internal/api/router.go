package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"push-relay-backend/config"
	"push-relay-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg *config.ServerConfig, jwtSecret string, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	authed := mw.Auth(jwtSecret)
	optional := mw.OptionalAuth(jwtSecret)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/vapid-key", caching, h.GetVAPIDPublicKey)

		api.POST("/subscribe", authed, h.Subscribe)
		api.POST("/unsubscribe", authed, h.Unsubscribe)

		api.GET("/preferences", authed, h.GetPreferences)
		api.PUT("/preferences", authed, h.PutPreferences)

		api.POST("/analytics/batch", optional, h.RecordAnalyticsBatch)
		api.GET("/stats", authed, h.GetStats)

		api.GET("/unread", authed, h.GetUnreadCount)

		api.POST("/schedule", authed, h.ScheduleNotification)
		api.DELETE("/schedule/:id", authed, h.CancelScheduled)

		api.POST("/test-notification", authed, h.SendTestNotification)
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
