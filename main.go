package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fingergun/config"
	"fingergun/handlers"
	"fingergun/logger"
	"fingergun/middleware"
	"fingergun/models"
	"fingergun/monitor"
	"fingergun/ratelimit"
	"fingergun/routes"
	"fingergun/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Auth.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Initialize database
	db, err := config.InitDB(cfg.Database, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg.Redis)
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	var mon *monitor.Monitor
	if cfg.Metrics.Enabled {
		mon = monitor.NewMonitor("fingergun")
	}

	// Initialize services
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		// development only, enforced by Validate
		jwtSecret = uuid.NewString()
		log.Warn("auth.jwt_secret not set, using an ephemeral secret")
	}
	tokens := services.NewTokenService(jwtSecret, cfg.Auth.TokenTTL)
	resolver := services.NewAuthResolver(cfg.AuthPolicy(), cfg.Auth.BotToken, tokens)
	users := services.NewUserService(db, log.Named("users"))

	var cache services.LeaderboardCache
	if redisClient != nil {
		cache = services.NewRedisLeaderboardCache(redisClient, cfg.Leaderboard.CacheTTL)
	}
	scores := services.NewScoreService(
		db,
		users,
		services.NewResultValidator(cfg.Bounds()),
		cfg.LeaderboardOptions(),
		cache,
		log.Named("scores"),
	)

	// Initialize WebSocket hub
	hub := services.NewHub(cfg.Server.AllowedOrigins, log.Named("hub"))
	hub.SetObserver(mon)
	scores.SetNotifier(hub)
	go hub.Run()
	defer hub.Stop()

	limiters := newLimiters(cfg, redisClient, log)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(resolver, users, scores, tokens, mon, log.Named("auth"), !cfg.IsProduction())
	scoreHandler := handlers.NewScoreHandler(resolver, users, scores, mon, log.Named("scores"))
	healthHandler := handlers.NewHealthHandler(db, redisClient, log)
	liveHandler := handlers.NewLiveHandler(hub, log.Named("hub"))

	// Setup Gin router
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(log.Named("http"), mon),
		middleware.Recovery(log),
		middleware.CORS(cfg.Server.AllowedOrigins),
	)

	routes.SetupRoutes(router, authHandler, scoreHandler, healthHandler, liveHandler, resolver, limiters, mon, log.Named("ratelimit"))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.BindAddress, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Auth.Environment),
			zap.Bool("verify_signatures", cfg.AuthPolicy().VerifySignatures),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// deferred: hub stop, redis close, sql pool close
	return nil
}

func newLimiters(cfg *config.Config, redisClient *redis.Client, log *zap.Logger) routes.Limiters {
	rl := cfg.RateLimit
	api := ratelimit.Limiter(ratelimit.NewMemoryLimiter(rl.APILimit, rl.APIWindow))
	submit := ratelimit.Limiter(ratelimit.NewMemoryLimiter(rl.SubmitLimit, rl.SubmitWindow))
	if rl.Backend == "redis" && redisClient != nil {
		api = ratelimit.NewRedisLimiter(redisClient, "api", rl.APILimit, rl.APIWindow, api, log.Named("ratelimit"))
		submit = ratelimit.NewRedisLimiter(redisClient, "submit", rl.SubmitLimit, rl.SubmitWindow, submit, log.Named("ratelimit"))
	}
	return routes.Limiters{API: api, Submit: submit}
}
