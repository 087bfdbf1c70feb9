package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

const defaultPort = "8080"

type Config struct {
	Addr     string
	LogLevel slog.Level
}

// Load reads an optional .env file and then the environment. BIND_ADDR
// takes precedence over PORT.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) Config {
	cfg := Config{LogLevel: parseLevel(getenv("LOG_LEVEL"))}

	switch {
	case getenv("BIND_ADDR") != "":
		cfg.Addr = getenv("BIND_ADDR")
	case getenv("PORT") != "":
		cfg.Addr = ":" + getenv("PORT")
	default:
		cfg.Addr = ":" + defaultPort
	}
	return cfg
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
