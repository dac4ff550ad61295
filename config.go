package accounting

// Environment-based configuration. Loads a .env file if present, then
// reads the variables any deployment of this engine needs: where the
// ledger database lives, and the Postgres coordinates a future server
// binary would use for the session/audit store this package exposes
// only through interfaces.

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds the engine's environment-derived settings.
type Config struct {
	DatabasePath string
	DatabaseURL  string
	PGHost       string
	PGPort       string
	PGUser       string
	PGPassword   string
	PGDatabase   string
	SessionSecret string
}

// LoadConfig loads a .env file from the working directory if one exists
// (a missing file is not an error - environment variables set by the
// host take precedence either way) and builds a Config from the process
// environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:  getenvDefault("LEDGER_DB_PATH", "ledger.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PGHost:        getenvDefault("PGHOST", "localhost"),
		PGPort:        getenvDefault("PGPORT", "5432"),
		PGUser:        os.Getenv("PGUSER"),
		PGPassword:    os.Getenv("PGPASSWORD"),
		PGDatabase:    os.Getenv("PGDATABASE"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
