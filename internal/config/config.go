// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	minJWTSecretLen = 32
)

type Config struct {
	DBDriver string
	DSN      string

	ServerPort     string
	JWTSecret      string
	AllowedOrigins []string

	CompactionInterval time.Duration
	WSRateLimit        int
	WSRateWindow       time.Duration
}

// Load reads .env (if present) and then the process environment.
// portVar names the variable holding the listen port, since each
// service uses its own.
func Load(portVar string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	return FromEnv(portVar)
}

// FromEnv builds a Config from the current environment only.
func FromEnv(portVar string) (*Config, error) {
	cfg := &Config{
		DBDriver:       getEnv("DB_DRIVER", DriverPostgres),
		ServerPort:     os.Getenv(portVar),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	if cfg.ServerPort == "" {
		return nil, fmt.Errorf("environment variable %s must be set", portVar)
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLen)
	}

	dsn, err := buildDSN(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	cfg.DSN = dsn

	if cfg.CompactionInterval, err = getDuration("COMPACTION_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WSRateWindow, err = getDuration("WS_RATE_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if cfg.WSRateLimit, err = getInt("WS_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.WSRateLimit <= 0 || cfg.WSRateWindow <= 0 {
		return nil, fmt.Errorf("WS_RATE_LIMIT and WS_RATE_WINDOW must be positive")
	}
	return cfg, nil
}

func buildDSN(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		requiredEnvVars := []string{
			"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
			"POSTGRES_HOST", "POSTGRES_PORT",
		}
		for _, env := range requiredEnvVars {
			if os.Getenv(env) == "" {
				return "", fmt.Errorf("environment variable %s must be set", env)
			}
		}
		return fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			os.Getenv("POSTGRES_HOST"), os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"), os.Getenv("POSTGRES_DB"),
			os.Getenv("POSTGRES_PORT"), getEnv("POSTGRES_SSLMODE", "disable")), nil
	case DriverSQLite:
		path := getEnv("SQLITE_PATH", "tasks.db")
		return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q (use %s or %s)", driver, DriverPostgres, DriverSQLite)
	}
}

// OriginAllowed reports whether a websocket Origin header is accepted.
// An empty allow-list accepts every origin.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a non-negative duration", key, raw)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
