package api

import (
	"strings"
	"time"

	"lompapi/internal/auth"
	"lompapi/internal/gate"
	"lompapi/internal/throttle"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Options holds the optional pieces of the public surface.
type Options struct {
	// StatusThrottle limits the unauthenticated system status route per client IP.
	StatusThrottle *throttle.Store
	Logger         zerolog.Logger
}

// CORS builds the CORS middleware for the given origins; "*" allows any origin.
// It must be installed with router.Use so preflight requests to unmatched OPTIONS routes are answered.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", auth.HeaderAPIKey},
		ExposeHeaders: []string{"Retry-After", "X-RateLimit-Limit"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}

func SetupRoutes(router *gin.Engine, handler *Handler, g *gate.Gate, opts Options) {
	gated := func(capability string) gin.HandlerFunc {
		return auth.RequireCapability(g, capability, opts.Logger)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.HealthHandler)

		system := v1.Group("/system")
		{
			status := []gin.HandlerFunc{handler.SystemStatusHandler}
			if opts.StatusThrottle != nil {
				status = append([]gin.HandlerFunc{throttle.Middleware(opts.StatusThrottle)}, status...)
			}
			system.GET("/status", status...)
			system.GET("/metrics", gated("monitoring:read"), handler.SystemMetricsHandler)
		}

		sites := v1.Group("/sites")
		{
			sites.GET("", gated("sites:read"), handler.ListSitesHandler)
			sites.POST("", gated("sites:create"), handler.CreateSiteHandler)
			sites.DELETE("/:domain", gated("sites:delete"), handler.DeleteSiteHandler)
		}

		backups := v1.Group("/backups")
		{
			backups.GET("", gated("backups:read"), handler.ListBackupsHandler)
			backups.POST("", gated("backups:create"), handler.CreateBackupHandler)
		}
	}

	router.NoRoute(handler.NotFoundHandler)
}
