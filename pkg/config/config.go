package config

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds node configuration.
type Config struct {
	LogLevel    string
	LogFormat   string
	GenesisPath string

	DBDriver    string
	DatabaseURL string

	Archive         string
	ArchiveDir      string
	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string

	RedisAddr    string
	OTLPEndpoint string
	KeySeed      string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		LogLevel:    strings.ToUpper(getenv("MOBIUS_LOG_LEVEL", "INFO")),
		LogFormat:   strings.ToLower(getenv("MOBIUS_LOG_FORMAT", "text")),
		GenesisPath: os.Getenv("MOBIUS_GENESIS_PATH"),

		DBDriver: strings.ToLower(getenv("MOBIUS_DB_DRIVER", "sqlite")),
		// In-memory SQLite unless told otherwise.
		DatabaseURL: getenv("MOBIUS_DATABASE_URL", "file::memory:?cache=shared"),

		Archive:         strings.ToLower(getenv("MOBIUS_ARCHIVE", "none")),
		ArchiveDir:      getenv("MOBIUS_ARCHIVE_DIR", "./archive"),
		ArchiveBucket:   os.Getenv("MOBIUS_ARCHIVE_BUCKET"),
		ArchiveRegion:   getenv("MOBIUS_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint: os.Getenv("MOBIUS_ARCHIVE_ENDPOINT"),

		RedisAddr:    os.Getenv("MOBIUS_REDIS_ADDR"),
		OTLPEndpoint: os.Getenv("MOBIUS_OTLP_ENDPOINT"),
		KeySeed:      os.Getenv("MOBIUS_KEY_SEED"),
	}
}

// Level maps LogLevel onto slog. Unknown values mean INFO.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Seed returns the key derivation seed. Hex values are decoded; anything
// else is used as raw bytes.
func (c *Config) Seed() []byte {
	if c.KeySeed == "" {
		return nil
	}
	if b, err := hex.DecodeString(c.KeySeed); err == nil {
		return b
	}
	return []byte(c.KeySeed)
}
