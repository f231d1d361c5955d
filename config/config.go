/*
Package config loads server configuration from the environment.

PURPOSE:
  Centralizes all tunables. A .env file in the working directory is
  loaded first (development convenience); real environment variables
  win over it. Command-line flags in cmd/server win over both.

VARIABLES:
  PORT             HTTP server port (default 8080)
  DB_PATH          SQLite database path, ":memory:" for ephemeral
  REDIS_ADDR       Redis address for notification dedup; empty = in-memory dedup
  NOTIFY_BUFFER    Notification dispatcher buffer size (default 64)

SEE ALSO:
  - cmd/server/main.go: The consumer
*/
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all server tunables.
type Config struct {
	Port         int
	DBPath       string
	RedisAddr    string
	NotifyBuffer int
}

// Load reads .env (if present) and the environment.
func Load() Config {
	// Missing .env is fine; the environment stands on its own.
	_ = godotenv.Load()

	return Config{
		Port:         envInt("PORT", 8080),
		DBPath:       envString("DB_PATH", "washengine.db"),
		RedisAddr:    envString("REDIS_ADDR", ""),
		NotifyBuffer: envInt("NOTIFY_BUFFER", 64),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
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
