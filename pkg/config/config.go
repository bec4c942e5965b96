package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config lists the tunable parameters of the jal-rakshak server.
type Config struct {
	Port          int
	DBPath        string
	NATSPort      int
	NATSDataDir   string
	JWTSecret     string
	JWTExpiry     time.Duration
	PublicBaseURL string
	PhotoBucket   string
	MaxPhotoBytes int64
	LogLevel      string
}

const (
	defaultPort          = 8080
	defaultDBPath        = "./data/jalrakshak.db"
	defaultNATSPort      = 4222
	defaultNATSDataDir   = "./data/jetstream"
	defaultJWTSecret     = "jalrakshak-dev-secret"
	defaultJWTExpiryMins = 720
	defaultPhotoBucket   = "gauge-photos"
	defaultMaxPhotoBytes = 10 << 20
	defaultLogLevel      = "info"
)

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:          defaultPort,
		DBPath:        defaultDBPath,
		NATSPort:      defaultNATSPort,
		NATSDataDir:   defaultNATSDataDir,
		JWTSecret:     defaultJWTSecret,
		JWTExpiry:     defaultJWTExpiryMins * time.Minute,
		PhotoBucket:   defaultPhotoBucket,
		MaxPhotoBytes: defaultMaxPhotoBytes,
		LogLevel:      defaultLogLevel,
	}

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	if cfg.NATSPort, err = envInt("NATS_PORT", cfg.NATSPort); err != nil {
		return Config{}, err
	}

	mins, err := envInt("JWT_EXPIRY_MINUTES", defaultJWTExpiryMins)
	if err != nil {
		return Config{}, err
	}
	if mins <= 0 {
		return Config{}, fmt.Errorf("invalid JWT_EXPIRY_MINUTES: must be positive")
	}
	cfg.JWTExpiry = time.Duration(mins) * time.Minute

	if v := os.Getenv("MAX_PHOTO_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MAX_PHOTO_BYTES: %w", err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_PHOTO_BYTES: must be positive")
		}
		cfg.MaxPhotoBytes = n
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NATS_DATA_DIR"); v != "" {
		cfg.NATSDataDir = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("PHOTO_BUCKET"); v != "" {
		cfg.PhotoBucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
