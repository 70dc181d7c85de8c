// Package cache keeps serialized per-user state snapshots in Redis so API
// reads and warm restarts avoid recomputing from the event stream. The cache
// is strictly best-effort: every miss or Redis error falls through to the
// live context loop.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantguard/backend/internal/contextloop"
)

// RedisClient is the minimal surface the cache needs. infra.GoRedisAdapter
// implements it; Memory provides the in-process fallback.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// Memory is the fallback client used when Redis is not configured.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem)}
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = time.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || (!item.expires.IsZero() && time.Now().After(item.expires)) {
		return nil, ErrMiss
	}
	return item.value, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// ErrMiss is returned by Memory on absent or expired keys.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }

// Snapshots caches StateView snapshots keyed by user.
type Snapshots struct {
	client RedisClient
	ttl    time.Duration
}

// NewSnapshots builds the cache. A zero TTL defaults to 5 minutes.
func NewSnapshots(client RedisClient, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Snapshots{client: client, ttl: ttl}
}

func stateKey(userID string) string {
	return "tg:state:" + userID
}

// Put stores the snapshot. Failures are logged, never surfaced.
func (s *Snapshots) Put(ctx context.Context, userID string, view contextloop.StateView) {
	body, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, stateKey(userID), body, s.ttl); err != nil {
		slog.Warn("state snapshot cache write failed", "user_id", userID, "error", err)
	}
}

// Get returns the cached snapshot, or ok=false on miss or error.
func (s *Snapshots) Get(ctx context.Context, userID string) (contextloop.StateView, bool) {
	body, err := s.client.Get(ctx, stateKey(userID))
	if err != nil {
		return contextloop.StateView{}, false
	}
	var view contextloop.StateView
	if err := json.Unmarshal(body, &view); err != nil {
		return contextloop.StateView{}, false
	}
	return view, true
}

// Invalidate drops the cached snapshot after the user's state changes.
func (s *Snapshots) Invalidate(ctx context.Context, userID string) {
	if err := s.client.Del(ctx, stateKey(userID)); err != nil {
		slog.Warn("state snapshot invalidation failed", "user_id", userID, "error", err)
	}
}
