package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // json or console; empty picks by environment
}

type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

// IsConfigured reports whether any Redis connection settings were given.
// Without them the limiter keeps its counters in memory.
func (r RedisConfig) IsConfigured() bool {
	return r.URL != "" || r.Host != ""
}

func (r RedisConfig) GetRedisAddr() string {
	if r.Host == "" {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type PostgresConfig struct {
	DSN            string
	EventRetention time.Duration
}

func (p PostgresConfig) IsConfigured() bool {
	return p.DSN != ""
}

type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	Algorithm      string
	BackendTimeout time.Duration
	SweepInterval  time.Duration
	HashKeys       bool
	Registry       ratelimit.Registry
}

// fileConfig is the optional JSON document named by CONFIG_FILE.
type fileConfig struct {
	Server struct {
		Port        string `json:"port"`
		Environment string `json:"environment"`
	} `json:"server"`
	RateLimits map[string]struct {
		MaxRequests int    `json:"max_requests"`
		Window      string `json:"window"`
	} `json:"rate_limits"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	server, err := buildServerConfig(file)
	if err != nil {
		return nil, err
	}

	redis, err := buildRedisConfig()
	if err != nil {
		return nil, err
	}

	rl, err := buildRateLimitConfig(file)
	if err != nil {
		return nil, err
	}

	retention, err := getDuration("RATE_LIMIT_EVENT_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	postgres := PostgresConfig{
		DSN:            getEnv("POSTGRES_DSN", ""),
		EventRetention: retention,
	}

	return &Config{
		Server: server,
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "")),
		},
		Redis:     redis,
		Postgres:  postgres,
		Auth:      AuthConfig{JWTSecret: getEnv("JWT_SECRET", "")},
		RateLimit: rl,
	}, nil
}

func loadFile(path string) (*fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return &fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return &fc, nil
}

func buildServerConfig(file *fileConfig) (ServerConfig, error) {
	port := getEnv("SERVER_PORT", orDefault(file.Server.Port, "8080"))
	env := getEnv("ENVIRONMENT", orDefault(file.Server.Environment, "development"))

	read, err := getDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	write, err := getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	idle, err := getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	shutdown, err := getDuration("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Port:            port,
		Environment:     env,
		ReadTimeout:     read,
		WriteTimeout:    write,
		IdleTimeout:     idle,
		ShutdownTimeout: shutdown,
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	port, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return RedisConfig{
		URL:      getEnv("REDIS_URL", ""),
		Host:     getEnv("REDIS_HOST", ""),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func buildRateLimitConfig(file *fileConfig) (RateLimitConfig, error) {
	algorithm := getEnv("RATE_LIMIT_ALGORITHM", ratelimit.AlgorithmSlidingWindow)
	switch algorithm {
	case ratelimit.AlgorithmSlidingWindow, ratelimit.AlgorithmFixedWindow:
	default:
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_ALGORITHM: %q", algorithm)
	}

	timeout, err := getDuration("RATE_LIMIT_BACKEND_TIMEOUT", ratelimit.DefaultBackendTimeout)
	if err != nil {
		return RateLimitConfig{}, err
	}
	sweep, err := getDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return RateLimitConfig{}, err
	}
	hashKeys, err := strconv.ParseBool(getEnv("RATE_LIMIT_HASH_KEYS", "false"))
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_HASH_KEYS: %w", err)
	}

	reg := ratelimit.DefaultRegistry()
	for name, rl := range file.RateLimits {
		window, err := time.ParseDuration(rl.Window)
		if err != nil {
			return RateLimitConfig{}, fmt.Errorf("invalid window for %s: %w", name, err)
		}
		if reg, err = override(reg, name, rl.MaxRequests, window); err != nil {
			return RateLimitConfig{}, err
		}
	}

	reg, err = ParseOverrides(reg, os.Getenv("RATE_LIMIT_OVERRIDES"))
	if err != nil {
		return RateLimitConfig{}, err
	}

	return RateLimitConfig{
		Algorithm:      algorithm,
		BackendTimeout: timeout,
		SweepInterval:  sweep,
		HashKeys:       hashKeys,
		Registry:       reg,
	}, nil
}

// ParseOverrides applies a list like "email=3/10m,api=200/1m" on top of reg.
func ParseOverrides(reg ratelimit.Registry, raw string) (ratelimit.Registry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reg, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, quota, ok := strings.Cut(item, "=")
		if !ok {
			return reg, fmt.Errorf("rate limit override must follow CATEGORY=MAX/WINDOW: %s", item)
		}
		maxStr, windowStr, ok := strings.Cut(quota, "/")
		if !ok {
			return reg, fmt.Errorf("rate limit override must follow CATEGORY=MAX/WINDOW: %s", item)
		}

		maxRequests, err := strconv.Atoi(strings.TrimSpace(maxStr))
		if err != nil {
			return reg, fmt.Errorf("invalid max requests for %s: %w", name, err)
		}
		window, err := time.ParseDuration(strings.TrimSpace(windowStr))
		if err != nil {
			return reg, fmt.Errorf("invalid window for %s: %w", name, err)
		}

		if reg, err = override(reg, name, maxRequests, window); err != nil {
			return reg, err
		}
	}

	return reg, nil
}

func override(reg ratelimit.Registry, name string, maxRequests int, window time.Duration) (ratelimit.Registry, error) {
	c, err := ratelimit.ParseCategory(name)
	if err != nil {
		return reg, err
	}
	return reg.Override(c, maxRequests, window)
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
