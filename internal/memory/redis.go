package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"whatsbot/internal/domain"
)

const (
	defaultKeyPrefix = "whatsbot:context:"
	maxTxAttempts    = 3
)

// RedisStore implements domain.ContextStore on Redis, one JSON array per
// user key. Appends use WATCH/MULTI/EXEC so concurrent writers on the same
// key do not lose turns.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration // 0 = keys never expire
	window    int
	pinSystem bool
	logger    *slog.Logger
}

type RedisConfig struct {
	Client    *redis.Client
	KeyPrefix string
	TTL       time.Duration
	Window    int
	PinSystem bool
	Logger    *slog.Logger
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis store: nil client: %w", ErrInvalidConfig)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisStore{
		client:    cfg.Client,
		prefix:    cfg.KeyPrefix,
		ttl:       cfg.TTL,
		window:    cfg.Window,
		pinSystem: cfg.PinSystem,
		logger:    cfg.Logger,
	}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]domain.Turn, error) {
	turns, err := s.load(ctx, s.client, s.key(key))
	if err != nil {
		return nil, err
	}
	if s.ttl > 0 && len(turns) > 0 {
		// Refresh TTL on read; the turns are still good if this fails.
		if err := s.client.Expire(ctx, s.key(key), s.ttl).Err(); err != nil {
			s.logger.Debug("redis ttl refresh failed", "session", key, "err", err)
		}
	}
	return turns, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, key string) ([]domain.Turn, error) {
	val, err := g.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return []domain.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var turns []domain.Turn
	if err := json.Unmarshal([]byte(val), &turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	return turns, nil
}

func (s *RedisStore) Append(ctx context.Context, key string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	k := s.key(key)
	txf := func(tx *redis.Tx) error {
		stored, err := s.load(ctx, tx, k)
		if err != nil {
			return err
		}
		trimmed := Trim(append(stored, turns...), s.window, s.pinSystem)
		data, err := json.Marshal(trimmed)
		if err != nil {
			return fmt.Errorf("encode turns: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
