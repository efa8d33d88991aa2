package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"beepgenesis/internal/models"
	"beepgenesis/internal/redis"
)

const (
	redisInvalidateChannel = "worker:invalidate"
	redisHistoryTTL        = 30 * time.Minute
)

type invalidateMessage struct {
	UserID int64 `json:"user_id"`
}

// stateCache keeps per-user histories in redis so a restarted or second
// instance avoids a cold database read, with pubsub invalidation keeping
// local copies coherent.
type stateCache struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateCache {
	return &stateCache{client: client}
}

func historyKey(userID int64) string {
	return fmt.Sprintf("worker:history:%d", userID)
}

func (r *stateCache) startListener(handler func(invalidateMessage)) {
	if r == nil || r.client == nil || handler == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := raw.Subscribe(ctx, redisInvalidateChannel)
		for msg := range pubsub.Channel() {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				log.Printf("worker invalidation decode failed: %v", err)
				continue
			}
			handler(inv)
		}
	}()
}

func (r *stateCache) publishInvalidation(msg invalidateMessage) {
	if r == nil || r.client == nil {
		return
	}
	raw := r.client.Raw()
	if raw == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("worker invalidation marshal failed: %v", err)
		return
	}
	if err := raw.Publish(context.Background(), redisInvalidateChannel, payload).Err(); err != nil {
		log.Printf("worker publish invalidation failed: %v", err)
	}
}

func (r *stateCache) cacheHistory(ctx context.Context, userID int64, history []models.ChatMessage) {
	if r == nil || r.client == nil || userID <= 0 {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		log.Printf("worker cache history marshal failed: %v", err)
		return
	}
	if err := r.client.Set(ctx, historyKey(userID), data, redisHistoryTTL); err != nil {
		log.Printf("worker cache history failed: %v", err)
	}
}

func (r *stateCache) loadHistory(ctx context.Context, userID int64) ([]models.ChatMessage, bool) {
	if r == nil || r.client == nil || userID <= 0 {
		return nil, false
	}
	raw, err := r.client.Get(ctx, historyKey(userID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("worker load history cache failed: %v", err)
		}
		return nil, false
	}
	var history []models.ChatMessage
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		log.Printf("worker decode history cache failed: %v", err)
		return nil, false
	}
	return history, true
}

func (r *stateCache) invalidateHistory(userID int64) {
	if r == nil || r.client == nil || userID <= 0 {
		return
	}
	if err := r.client.Del(context.Background(), historyKey(userID)); err != nil && err != redis.ErrCacheMiss {
		log.Printf("worker invalidate history cache failed: %v", err)
	}
}
