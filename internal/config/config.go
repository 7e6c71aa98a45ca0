package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseDSN string
	JWTSecret   string
	Env         string

	// Messaging knobs.
	HistoryPageSize  int
	TypingTTLSeconds int
	WSSendBuffer     int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load reads configuration from the environment, falling back to dev
// defaults. A .env file is picked up when present.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:             getenv("APP_PORT", "8080"),
		DatabaseDSN:      getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:        getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:              getenv("APP_ENV", "dev"),
		HistoryPageSize:  getenvInt("HISTORY_PAGE_SIZE", 50),
		TypingTTLSeconds: getenvInt("TYPING_TTL_SECONDS", 5),
		WSSendBuffer:     getenvInt("WS_SEND_BUFFER", 256),
	}
}

// Validate rejects configurations that cannot run safely. The default JWT
// secret is only acceptable in dev.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port must not be empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database DSN must not be empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("config: default JWT secret is not allowed outside dev")
	}
	return nil
}
