// Package config loads the flat environment-variable configuration
// surface this server exposes. There are seven plain env vars with
// defaults and nothing else — so this package is deliberately a thin
// os.Getenv wrapper rather than a file-plus-templating loader.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the fully-resolved server configuration.
type Config struct {
	Environment    string
	Port           int
	HealthPort     int
	AllowedOrigins []string
	StoreURL       string
	DBURL          string
	SessionSecret  string
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		Environment:    getEnv("NODE_ENV", "development"),
		Port:           getEnvInt("PORT", 3001),
		HealthPort:     getEnvInt("HEALTH_PORT", 3002),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		StoreURL:       getEnv("STORE_URL", "mongodb://localhost:27017/banchess"),
		DBURL:          getEnv("DB_URL", "postgres://localhost:5432/banchess?sslmode=disable"),
		SessionSecret:  getEnv("SESSION_SECRET", ""),
	}
}

// IsProduction reports whether NODE_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
