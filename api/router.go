package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/apiary/api/handler"
	"github.com/use-agent/apiary/api/middleware"
	"github.com/use-agent/apiary/config"
	"github.com/use-agent/apiary/dispatch"
	"github.com/use-agent/apiary/respond"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(reg *dispatch.Registry, corr *respond.Correlator, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(reg, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Scrape: GET is the primary surface, POST accepted for parity.
	scrape := handler.Scrape(reg, corr, cfg)
	protected.GET("/scrape", scrape)
	protected.POST("/scrape", scrape)

	return r
}
