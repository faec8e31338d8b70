package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DBPath        string
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CORSOrigin    string
	// Redis Configuration
	RedisURL string
	// Meilisearch Configuration
	MeiliURL       string
	MeiliMasterKey string
}

func Load() Config {
	return Config{
		Addr:          getenv("INTAKE_ADDR", ":8790"),
		DBPath:        getenv("INTAKE_DB_PATH", "./data/intake.db"),
		MigrationsDir: getenv("INTAKE_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:     getenv("INTAKE_JWT_SECRET", "intake-dev-secret"),
		AccessTTL:     time.Duration(getenvInt("INTAKE_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:    time.Duration(getenvInt("INTAKE_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		CORSOrigin:    getenv("INTAKE_CORS_ORIGIN", "*"),
		// Redis - optional, refresh tokens fall back to SQLite when unset
		RedisURL: getenv("REDIS_URL", ""),
		// Meilisearch - optional, search falls back to SQLite when unset
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
