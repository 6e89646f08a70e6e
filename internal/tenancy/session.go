package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:tenant:v1:"

// RedisSessionStore keeps session tenant choices in Redis with a TTL.
type RedisSessionStore struct {
	cache *redis.Client
}

// NewRedisSessionStore builds a Redis-backed session store.
func NewRedisSessionStore(cache *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{cache: cache}
}

// Get implements SessionStore.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (TenantID, bool, error) {
	v, err := s.cache.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session tenant: %w", err)
	}
	return TenantID(v), true, nil
}

// Set implements SessionStore.
func (s *RedisSessionStore) Set(ctx context.Context, sessionID string, tenant TenantID, ttl time.Duration) error {
	if err := s.cache.Set(ctx, sessionKeyPrefix+sessionID, string(tenant), ttl).Err(); err != nil {
		return fmt.Errorf("set session tenant: %w", err)
	}
	return nil
}

type memorySession struct {
	tenant  TenantID
	expires time.Time
}

// MemorySessionStore is a process-local SessionStore for development and tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

// NewMemorySessionStore builds an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memorySession), now: time.Now}
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (TenantID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(sess.expires) {
		delete(s.sessions, sessionID)
		return "", false, nil
	}
	return sess.tenant, true, nil
}

// Set implements SessionStore.
func (s *MemorySessionStore) Set(_ context.Context, sessionID string, tenant TenantID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = memorySession{tenant: tenant, expires: s.now().Add(ttl)}
	return nil
}
