package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fingergun/apperr"
	"fingergun/services"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	AntiCheat   AntiCheatConfig   `mapstructure:"anticheat"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	BindAddress     string        `mapstructure:"bind_address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Environment       string        `mapstructure:"environment"`
	BotToken          string        `mapstructure:"bot_token"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	SkipVerify        bool          `mapstructure:"skip_verify"`
	AllowLocalSession bool          `mapstructure:"allow_local_session"`
	MaxAuthAge        time.Duration `mapstructure:"max_auth_age"`
}

type AntiCheatConfig struct {
	MaxScore               int      `mapstructure:"max_score"`
	MaxTargetsHit          int      `mapstructure:"max_targets_hit"`
	MaxShotsFired          int      `mapstructure:"max_shots_fired"`
	MaxCombo               int      `mapstructure:"max_combo"`
	MinDurationMs          int      `mapstructure:"min_duration_ms"`
	MaxDurationMs          int      `mapstructure:"max_duration_ms"`
	RateCheckMinDurationMs int      `mapstructure:"min_duration_for_rate_check_ms"`
	MaxScorePerMinute      float64  `mapstructure:"max_score_per_minute"`
	MaxHitsPerMinute       float64  `mapstructure:"max_hits_per_minute"`
	GameModes              []string `mapstructure:"game_modes"`
	DefaultGameMode        string   `mapstructure:"default_game_mode"`
}

type RateLimitConfig struct {
	Backend      string        `mapstructure:"backend"`
	APILimit     int           `mapstructure:"api_limit"`
	APIWindow    time.Duration `mapstructure:"api_window"`
	SubmitLimit  int           `mapstructure:"submit_limit"`
	SubmitWindow time.Duration `mapstructure:"submit_window"`
}

type LeaderboardConfig struct {
	DefaultLimit     int           `mapstructure:"default_limit"`
	MaxLimit         int           `mapstructure:"max_limit"`
	MaxOffset        int           `mapstructure:"max_offset"`
	MinAccuracyShots int           `mapstructure:"min_accuracy_shots"`
	RecentResults    int           `mapstructure:"recent_results"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.bind_address", "")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fingergun")
	v.SetDefault("database.password", "fingergun")
	v.SetDefault("database.name", "fingergun")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "fingergun.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.environment", EnvProduction)
	v.SetDefault("auth.bot_token", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.skip_verify", false)
	v.SetDefault("auth.allow_local_session", false)
	v.SetDefault("auth.max_auth_age", 24*time.Hour)

	v.SetDefault("anticheat.max_score", 1_000_000)
	v.SetDefault("anticheat.max_targets_hit", 10_000)
	v.SetDefault("anticheat.max_shots_fired", 50_000)
	v.SetDefault("anticheat.max_combo", 1_000)
	v.SetDefault("anticheat.min_duration_ms", 1_000)
	v.SetDefault("anticheat.max_duration_ms", 3_600_000)
	v.SetDefault("anticheat.min_duration_for_rate_check_ms", 10_000)
	v.SetDefault("anticheat.max_score_per_minute", 60_000.0)
	v.SetDefault("anticheat.max_hits_per_minute", 300.0)
	v.SetDefault("anticheat.game_modes", []string{"classic", "timed", "endless"})
	v.SetDefault("anticheat.default_game_mode", "classic")

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.api_limit", 120)
	v.SetDefault("ratelimit.api_window", time.Minute)
	v.SetDefault("ratelimit.submit_limit", 10)
	v.SetDefault("ratelimit.submit_window", time.Minute)

	v.SetDefault("leaderboard.default_limit", 10)
	v.SetDefault("leaderboard.max_limit", 100)
	v.SetDefault("leaderboard.max_offset", 10_000)
	v.SetDefault("leaderboard.min_accuracy_shots", 10)
	v.SetDefault("leaderboard.recent_results", 10)
	v.SetDefault("leaderboard.cache_ttl", 15*time.Second)

	v.SetDefault("metrics.enabled", true)
}

// Load reads config.yaml from path when present and overlays the
// environment (AUTH_BOT_TOKEN sets auth.bot_token, and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Auth.Environment = strings.ToLower(strings.TrimSpace(cfg.Auth.Environment))
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Auth.Environment == EnvDevelopment
}

func (c *Config) IsProduction() bool {
	return c.Auth.Environment == EnvProduction
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return apperr.New(apperr.CodeConfiguration, fmt.Sprintf(format, args...))
	}

	if c.Server.Port == "" {
		return fail("server.port is required")
	}
	switch c.Auth.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fail("auth.environment %q must be one of %s, %s, %s",
			c.Auth.Environment, EnvDevelopment, EnvStaging, EnvProduction)
	}
	if c.IsProduction() && c.Auth.SkipVerify {
		return fail("auth.skip_verify is not allowed in production")
	}
	if c.AuthPolicy().VerifySignatures && c.Auth.BotToken == "" {
		return fail("auth.bot_token is required when signature verification is enabled")
	}
	if !c.IsDevelopment() && c.Auth.JWTSecret == "" {
		return fail("auth.jwt_secret is required outside development")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fail("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fail("ratelimit.backend=redis requires redis.enabled")
		}
	default:
		return fail("ratelimit.backend %q is not supported", c.RateLimit.Backend)
	}
	if c.RateLimit.APILimit <= 0 || c.RateLimit.SubmitLimit <= 0 ||
		c.RateLimit.APIWindow <= 0 || c.RateLimit.SubmitWindow <= 0 {
		return fail("rate limits and windows must be positive")
	}

	ac := c.AntiCheat
	if ac.MaxScore <= 0 || ac.MaxCombo < 1 || ac.MaxTargetsHit <= 0 || ac.MaxShotsFired <= 0 {
		return fail("anticheat upper bounds must be positive")
	}
	if ac.MinDurationMs < 0 || ac.MaxDurationMs <= ac.MinDurationMs {
		return fail("anticheat duration range is empty")
	}
	if ac.MaxScorePerMinute <= 0 || ac.MaxHitsPerMinute <= 0 {
		return fail("anticheat rate ceilings must be positive")
	}
	if len(ac.GameModes) == 0 {
		return fail("anticheat.game_modes must not be empty")
	}

	lb := c.Leaderboard
	if lb.DefaultLimit < 1 || lb.MaxLimit < lb.DefaultLimit || lb.MaxOffset < 0 {
		return fail("leaderboard limits are inconsistent")
	}
	return nil
}

// AuthPolicy derives the per-request auth rules from the environment flags.
// Signature bypass is never granted in production.
func (c *Config) AuthPolicy() services.AuthPolicy {
	dev := c.IsDevelopment()
	bypass := dev || (c.Auth.SkipVerify && !c.IsProduction())
	return services.AuthPolicy{
		VerifySignatures:  !bypass,
		AllowSessionAuth:  dev || c.Auth.AllowLocalSession,
		AllowMockPlatform: dev,
		MaxAuthAge:        c.Auth.MaxAuthAge,
	}
}

// Bounds returns the result validator configuration.
func (c *Config) Bounds() services.Bounds {
	ac := c.AntiCheat
	return services.Bounds{
		MaxScore:               ac.MaxScore,
		MaxTargetsHit:          ac.MaxTargetsHit,
		MaxShotsFired:          ac.MaxShotsFired,
		MaxCombo:               ac.MaxCombo,
		MinDurationMs:          ac.MinDurationMs,
		MaxDurationMs:          ac.MaxDurationMs,
		RateCheckMinDurationMs: ac.RateCheckMinDurationMs,
		MaxScorePerMinute:      ac.MaxScorePerMinute,
		MaxHitsPerMinute:       ac.MaxHitsPerMinute,
		GameModes:              ac.GameModes,
		DefaultGameMode:        ac.DefaultGameMode,
	}
}

// LeaderboardOptions returns the ranking query limits.
func (c *Config) LeaderboardOptions() services.LeaderboardOptions {
	lb := c.Leaderboard
	return services.LeaderboardOptions{
		DefaultLimit:     lb.DefaultLimit,
		MaxLimit:         lb.MaxLimit,
		MaxOffset:        lb.MaxOffset,
		MinAccuracyShots: lb.MinAccuracyShots,
		RecentResults:    lb.RecentResults,
	}
}
