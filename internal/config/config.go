package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the loaded configuration to the fx graph.
var Module = fx.Provide(Load)

// ErrPepperNotConfigured is returned when API_KEY_PEPPER is unset. The
// pepper is required for credential hashing; starting without it would
// make every key lookup fail.
var ErrPepperNotConfigured = errors.New("API_KEY_PEPPER is not configured")

// Config holds application configuration.
type Config struct {
	AppName     string
	Environment string
	HTTPAddr    string

	// APIKeyPepper is mixed into every credential hash. Rotating it
	// invalidates all issued keys.
	APIKeyPepper string

	// UpstreamURL is the single backend base URL admitted requests are
	// forwarded to. Path-to-backend dispatch beyond it is external.
	UpstreamURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RateLimitCapacity int
	RateLimitRefill   int
	RateLimitInterval time.Duration
	RateLimitIdleTTL  time.Duration

	KeyCacheSize int
	KeyCacheTTL  time.Duration

	ServiceCacheTTL time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "gateway"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		APIKeyPepper: strings.TrimSpace(os.Getenv("API_KEY_PEPPER")),
		UpstreamURL:  strings.TrimSpace(getenv("UPSTREAM_URL", "")),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "postgres"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		RateLimitCapacity: getenvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getenvInt("RATE_LIMIT_REFILL", 10),
		RateLimitInterval: getenvDuration("RATE_LIMIT_INTERVAL", time.Second),
		RateLimitIdleTTL:  getenvDuration("RATE_LIMIT_IDLE_TTL", 10*time.Minute),

		KeyCacheSize: getenvInt("KEY_CACHE_SIZE", 1000),
		KeyCacheTTL:  getenvDuration("KEY_CACHE_TTL", time.Hour),

		ServiceCacheTTL: getenvDuration("SERVICE_CACHE_TTL", 10*time.Minute),
	}

	if cfg.APIKeyPepper == "" {
		return Config{}, ErrPepperNotConfigured
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
