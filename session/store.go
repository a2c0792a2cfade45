package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store mirrors session metadata into Redis for dashboards and debugging.
// It is strictly best effort: a missing or failing Redis never affects the
// conversation.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore connects to Redis. When the instance is unreachable the store
// still works, silently dropping writes.
func NewStore(addr, password string, ttl time.Duration) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it
		client = nil
	}

	return &Store{redis: client, ttl: ttl}
}

// Track registers a freshly created session.
func (s *Store) Track(ctx context.Context, sessionID, state string) {
	if s == nil || s.redis == nil {
		return
	}
	s.redis.HSet(ctx, "conversation:"+sessionID, map[string]interface{}{
		"created_at": time.Now().Format(time.RFC3339),
		"state":      state,
	})
	s.redis.SAdd(ctx, "active_conversations", sessionID)
	if s.ttl > 0 {
		s.redis.Expire(ctx, "conversation:"+sessionID, s.ttl)
	}
}

// Touch updates the mirrored state and activity timestamp.
func (s *Store) Touch(ctx context.Context, sessionID, state string) {
	if s == nil || s.redis == nil {
		return
	}
	s.redis.HSet(ctx, "conversation:"+sessionID, map[string]interface{}{
		"state":         state,
		"last_activity": time.Now().Format(time.RFC3339),
	})
}

// Forget removes a session discarded by reset.
func (s *Store) Forget(ctx context.Context, sessionID string) {
	if s == nil || s.redis == nil {
		return
	}
	s.redis.Del(ctx, "conversation:"+sessionID)
	s.redis.SRem(ctx, "active_conversations", sessionID)
}

// Close releases the Redis connection.
func (s *Store) Close() {
	if s == nil || s.redis == nil {
		return
	}
	s.redis.Close()
}
