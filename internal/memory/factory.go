package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"whatsbot/internal/domain"
)

// Driver names a Context Store backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// StoreConfig selects and configures a Context Store driver.
type StoreConfig struct {
	Driver        Driver
	Window        int
	PinSystemTurn bool

	// sqlite
	DBPath string

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	KeyPrefix     string

	Logger *slog.Logger
}

// NewStore builds the configured Context Store. An empty driver selects the
// in-memory store.
func NewStore(cfg StoreConfig) (domain.ContextStore, error) {
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case "", DriverMemory:
		return NewInMemoryStore(cfg.Window, cfg.PinSystemTurn), nil

	case DriverSQLite:
		return NewSQLiteStore(cfg.DBPath, cfg.Window, cfg.PinSystemTurn, cfg.Logger)

	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis store: empty address: %w", ErrInvalidConfig)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(RedisConfig{
			Client:    client,
			KeyPrefix: cfg.KeyPrefix,
			TTL:       cfg.RedisTTL,
			Window:    cfg.Window,
			PinSystem: cfg.PinSystemTurn,
			Logger:    cfg.Logger,
		})

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}
}
