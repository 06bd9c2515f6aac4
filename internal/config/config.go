package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SalesLogKey           string
	AuthSecret            string
	AccessTokenTTLMinutes int
	RemoteTimeoutMS       int
	BreakerFailures       int
	BreakerOpenSeconds    int
	CurrencySymbol        string
	ReportTimezone        string
	KafkaBrokers          []string
	KafkaSalesTopic       string
	LogLevel              string
	AppEnv                string
	CartIdleMinutes       int
	SeedAdminEmail        string
	SeedAdminPassword     string
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		SalesLogKey:           getEnv("SALES_LOG_KEY", "blank_pos_sales"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		RemoteTimeoutMS:       getInt("REMOTE_TIMEOUT_MS", 3000, 1),
		BreakerFailures:       getInt("BREAKER_FAILURES", 5, 1),
		BreakerOpenSeconds:    getInt("BREAKER_OPEN_SECONDS", 30, 1),
		CurrencySymbol:        getEnv("CURRENCY_SYMBOL", "£"),
		ReportTimezone:        getEnv("REPORT_TIMEZONE", "Local"),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaSalesTopic:       getEnv("KAFKA_SALES_TOPIC", "pos.sales.committed"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		AppEnv:                getEnv("APP_ENV", "development"),
		CartIdleMinutes:       getInt("CART_IDLE_MINUTES", 120, 1),
		SeedAdminEmail:        strings.TrimSpace(os.Getenv("SEED_ADMIN_EMAIL")),
		SeedAdminPassword:     os.Getenv("SEED_ADMIN_PASSWORD"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMS) * time.Millisecond
}

func (c Config) BreakerOpenFor() time.Duration {
	return time.Duration(c.BreakerOpenSeconds) * time.Second
}

func (c Config) CartIdle() time.Duration {
	return time.Duration(c.CartIdleMinutes) * time.Minute
}

// Location resolves REPORT_TIMEZONE. Unknown zones fall back to the host
// zone with an error so the caller can log it.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.ReportTimezone)
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local, fmt.Errorf("load REPORT_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt returns fallback when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
