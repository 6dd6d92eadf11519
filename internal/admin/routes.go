package admin

import (
	"net/http"

	"lompapi/internal/auth"
	"lompapi/internal/config"
	"lompapi/internal/throttle"

	"github.com/gin-gonic/gin"
)

// Options holds the optional pieces of the admin surface.
type Options struct {
	// Throttle limits admin requests per client IP.
	Throttle *throttle.Store
	// Metrics serves /admin/metrics when set.
	Metrics http.Handler
}

func SetupRoutes(router *gin.Engine, handler *Handler, cfg *config.Config, opts Options) {
	adminGroup := router.Group("/admin")
	if opts.Throttle != nil {
		adminGroup.Use(throttle.Middleware(opts.Throttle))
	}
	adminGroup.Use(auth.AdminAuthMiddleware(cfg.Admin))
	{
		keysGroup := adminGroup.Group("/keys")
		{
			keysGroup.GET("", handler.ListKeysHandler)
			keysGroup.POST("", handler.CreateKeyHandler)
			keysGroup.GET("/:id", handler.GetKeyHandler)
			keysGroup.POST("/:id/revoke", handler.RevokeKeyHandler)
			keysGroup.GET("/:id/window", handler.GetWindowHandler)
			keysGroup.GET("/:id/stats", handler.KeyStatsHandler)
		}

		adminGroup.GET("/stats", handler.StatsHandler)
		if opts.Metrics != nil {
			adminGroup.GET("/metrics", gin.WrapH(opts.Metrics))
		}
	}
}
