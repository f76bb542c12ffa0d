package memory

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"whatsbot/internal/domain"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		TTL:    ttl,
		Window: 4,
	})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_AppendGetReset(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t, 0)

	if got, err := s.Get(ctx, "u"); err != nil || len(got) != 0 {
		t.Fatalf("expected empty context, got %d (err=%v)", len(got), err)
	}

	for i := 0; i < 6; i++ {
		if err := s.Append(ctx, "u", userTurn(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := s.Get(ctx, "u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 4 || got[0].Content != "msg-2" || got[3].Role != domain.RoleUser {
		t.Fatalf("unexpected window: %+v", got)
	}
	if !mr.Exists(defaultKeyPrefix + "u") {
		t.Fatal("expected key with default prefix")
	}
	if ttl := mr.TTL(defaultKeyPrefix + "u"); ttl != 0 {
		t.Fatalf("expected no expiry, got %v", ttl)
	}

	if err := s.Reset(ctx, "u"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := s.Get(ctx, "u"); len(got) != 0 {
		t.Fatalf("reset did not clear: %d", len(got))
	}
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t, time.Hour)

	_ = s.Append(ctx, "u", userTurn(0))
	if ttl := mr.TTL(defaultKeyPrefix + "u"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if got, _ := s.Get(ctx, "u"); len(got) != 0 {
		t.Fatalf("expired context should be empty, got %d", len(got))
	}
}

// failExpire rejects EXPIRE and passes every other command through.
type failExpire struct{}

func (failExpire) DialHook(next redis.DialHook) redis.DialHook { return next }

func (failExpire) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "expire" {
			cmd.SetErr(errors.New("READONLY You can't write against a read only replica."))
			return cmd.Err()
		}
		return next(ctx, cmd)
	}
}

func (failExpire) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStore_TTLRefreshFailureLogged(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	var logs bytes.Buffer
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(RedisConfig{
		Client: client,
		TTL:    time.Hour,
		Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Append(ctx, "u", userTurn(0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	client.AddHook(failExpire{})

	got, err := s.Get(ctx, "u")
	if err != nil || len(got) != 1 {
		t.Fatalf("get should still return the turns, got %d (err=%v)", len(got), err)
	}
	if !strings.Contains(logs.String(), "redis ttl refresh failed") || !strings.Contains(logs.String(), "READONLY") {
		t.Fatalf("expected ttl refresh failure in logs, got %q", logs.String())
	}
}

func TestNewRedisStore_NilClient(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}
