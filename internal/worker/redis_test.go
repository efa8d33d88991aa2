package worker

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"beepgenesis/internal/config"
	"beepgenesis/internal/models"
	"beepgenesis/internal/redis"
)

func TestStateCacheStoreLoadAndInvalidate(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()
	ctx := context.Background()

	history := []models.ChatMessage{
		{ID: models.NewMessageID(), Role: models.RoleUser, Content: "hello"},
		{ID: models.NewMessageID(), Role: models.RoleAssistant, Content: "hi"},
	}
	sc.cacheHistory(ctx, 77, history)

	got, ok := sc.loadHistory(ctx, 77)
	if !ok {
		t.Fatalf("expected history cached")
	}
	if len(got) != len(history) || got[0].Content != "hello" {
		t.Fatalf("history mismatch: %+v", got)
	}

	sc.invalidateHistory(77)
	if _, ok := sc.loadHistory(ctx, 77); ok {
		t.Fatalf("expected history rdb invalidated")
	}
}

func TestStateCachePubSub(t *testing.T) {
	sc, cleanup := newRedisStateCache(t)
	defer cleanup()

	ch := make(chan invalidateMessage, 1)
	sc.startListener(func(msg invalidateMessage) {
		ch <- msg
	})

	msg := invalidateMessage{UserID: 5}
	sc.publishInvalidation(msg)
	select {
	case got := <-ch:
		if got != msg {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}

func newRedisStateCache(t *testing.T) (*stateCache, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed worker tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := redis.NewClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	if raw := client.Raw(); raw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	sc := newStateCache(client)
	cleanup := func() {
		client.Close()
	}
	return sc, cleanup
}
