// Package router assembles the gin engine and wires the API routes.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appmetering "github.com/entitled/backend/internal/application/metering"
	"github.com/entitled/backend/internal/infrastructure/config"
	"github.com/entitled/backend/internal/infrastructure/logger"
	"github.com/entitled/backend/internal/interfaces/http/handler"
	"github.com/entitled/backend/internal/interfaces/http/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Metering     *handler.MeteringHandler
	Subscription *handler.SubscriptionHandler
	System       *handler.SystemHandler
	// Gate backs the entitlement middleware on the check endpoint.
	Gate *appmetering.Gate
}

// New builds the gin engine with all middlewares and routes mounted.
func New(cfg *config.Config, log *zap.Logger, h Handlers) *gin.Engine {
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		_ = engine.SetTrustedProxies(cfg.HTTP.TrustedProxies)
	}

	engine.Use(
		logger.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
	)

	engine.GET("/health", h.System.Health)

	api := engine.Group("/api/v1")
	api.Use(middleware.SubscriberIdentity())

	metering := api.Group("/metering")
	{
		metering.POST("/events", h.Metering.CreateEvent)
		metering.GET("/summary", h.Metering.GetSummary)
		metering.POST("/rebuild", h.Metering.RebuildCounters)
	}

	subs := api.Group("/subscriptions")
	{
		subs.GET("/plans", h.Subscription.ListPlans)
		subs.POST("/subscribe", h.Subscription.Subscribe)
		subs.POST("/renew", h.Subscription.Renew)
	}

	// Check endpoint for services enforcing entitlements at their own
	// edge: a 200 here means one unit of the X-Feature-Code feature was
	// admitted and counted.
	if h.Gate != nil {
		api.POST("/entitlements/check", middleware.Entitlement(h.Gate), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"allowed": true})
		})
	}

	return engine
}
