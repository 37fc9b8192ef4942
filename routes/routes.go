package routes

import (
	"fingergun/apperr"
	"fingergun/handlers"
	"fingergun/middleware"
	"fingergun/monitor"
	"fingergun/ratelimit"
	"fingergun/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiters holds one limiter per scope.
type Limiters struct {
	API    ratelimit.Limiter
	Submit ratelimit.Limiter
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	scoreHandler *handlers.ScoreHandler,
	healthHandler *handlers.HealthHandler,
	liveHandler *handlers.LiveHandler,
	resolver *services.AuthResolver,
	limiters Limiters,
	mon *monitor.Monitor,
	log *zap.Logger,
) {
	// API routes
	api := router.Group("/api")
	api.Use(middleware.RateLimit(limiters.API, "api", mon, log))
	{
		auth := api.Group("/auth")
		{
			auth.POST("/platform", authHandler.Platform)
			auth.POST("/dev", authHandler.Dev)
			auth.GET("/me", middleware.RequireIdentity(resolver, mon), authHandler.Me)
		}

		scores := api.Group("/scores")
		{
			scores.POST("", middleware.RateLimit(limiters.Submit, "submit", mon, log), scoreHandler.Submit)
			scores.GET("/leaderboard", middleware.OptionalIdentity(resolver, mon, log), scoreHandler.Leaderboard)
			scores.GET("/user/platform/:platformId", scoreHandler.ProfileByPlatform)
			scores.GET("/user/:sessionId", scoreHandler.ProfileBySession)
			scores.PUT("/user/:sessionId", scoreHandler.UpdateDisplayName)
		}
	}

	// Live leaderboard feed
	router.GET("/ws/leaderboard", liveHandler.Leaderboard)

	if mon != nil {
		router.GET("/metrics", gin.WrapH(mon.Handler()))
	}

	router.GET("/health", healthHandler.Health)

	router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, apperr.New(apperr.CodeNotFound, "not found"))
	})
}
