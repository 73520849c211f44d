package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DBDSN       string `env:"DB_DSN"`
	BadgerPath  string `env:"BADGER_PATH" envDefault:"data/messages"`

	// Empty disables cross-instance fan-out.
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"direct-messages"`

	JWTSecret                string        `env:"JWT_SECRET,required,notEmpty"`
	TokenTTL                 time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	RequireAuthenticatedJoin bool          `env:"REQUIRE_AUTHENTICATED_JOIN" envDefault:"true"`

	AppendTimeout    time.Duration `env:"APPEND_TIMEOUT" envDefault:"5s"`
	SendBuffer       int           `env:"SEND_BUFFER" envDefault:"256"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"4096"`
	PresenceShards   int           `env:"PRESENCE_SHARDS" envDefault:"64"`

	UploadDir     string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("%w: DB_DSN is required with STORE_DRIVER=postgres", ErrInvalidConfig)
		}
	case DriverBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("%w: BADGER_PATH is required with STORE_DRIVER=badger", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("%w: SEND_BUFFER must be positive", ErrInvalidConfig)
	}
	if c.PresenceShards <= 0 {
		return fmt.Errorf("%w: PRESENCE_SHARDS must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("%w: MAX_MESSAGE_LENGTH must be positive", ErrInvalidConfig)
	}
	return nil
}

// Logger builds the process logger from LOG_LEVEL.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
