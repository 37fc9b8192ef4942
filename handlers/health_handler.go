package handlers

import (
	"context"
	"net/http"
	"time"

	"fingergun/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
	log   *zap.Logger
}

// NewHealthHandler accepts a nil redis client when redis is disabled.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, log *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, log: log}
}

// Health reports 503 when the database is unreachable. Redis is optional, so
// a failed redis ping only marks the response degraded.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.log.Error("health check: database unreachable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			h.log.Warn("health check: redis unreachable", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type LiveHandler struct {
	hub *services.Hub
	log *zap.Logger
}

func NewLiveHandler(hub *services.Hub, log *zap.Logger) *LiveHandler {
	return &LiveHandler{hub: hub, log: log}
}

// Leaderboard upgrades to a websocket that receives score_submitted events.
func (h *LiveHandler) Leaderboard(c *gin.Context) {
	if err := h.hub.ServeWS(c.Writer, c.Request); err != nil {
		// the upgrader has already written the HTTP error
		h.log.Debug("websocket upgrade failed", zap.Error(err))
	}
}
