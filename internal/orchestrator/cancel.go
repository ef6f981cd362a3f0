package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CancelRegistry holds per-project cancel flags that running pipelines poll
type CancelRegistry interface {
	Cancel(ctx context.Context, projectID string) error
	IsCancelled(ctx context.Context, projectID string) (bool, error)
	Clear(ctx context.Context, projectID string) error
}

// CancelKey returns the redis key of a project's cancel flag
func CancelKey(projectID string) string {
	return "scenecraft:cancel:" + projectID
}

// MemoryCancelRegistry keeps flags in process memory
type MemoryCancelRegistry struct {
	ttl   time.Duration
	mu    sync.Mutex
	flags map[string]time.Time
}

// NewMemoryCancelRegistry creates a registry whose flags expire after ttl
func NewMemoryCancelRegistry(ttl time.Duration) *MemoryCancelRegistry {
	return &MemoryCancelRegistry{ttl: ttl, flags: make(map[string]time.Time)}
}

func (m *MemoryCancelRegistry) Cancel(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[projectID] = time.Now().Add(m.ttl)
	return nil
}

func (m *MemoryCancelRegistry) IsCancelled(ctx context.Context, projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expires, ok := m.flags[projectID]
	if !ok {
		return false, nil
	}
	if m.ttl > 0 && time.Now().After(expires) {
		delete(m.flags, projectID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryCancelRegistry) Clear(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, projectID)
	return nil
}

// RedisCancelRegistry shares flags between the API and worker processes
type RedisCancelRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCancelRegistry creates a redis backed registry
func NewRedisCancelRegistry(client *redis.Client, ttl time.Duration) *RedisCancelRegistry {
	return &RedisCancelRegistry{client: client, ttl: ttl}
}

func (r *RedisCancelRegistry) Cancel(ctx context.Context, projectID string) error {
	return r.client.Set(ctx, CancelKey(projectID), "1", r.ttl).Err()
}

func (r *RedisCancelRegistry) IsCancelled(ctx context.Context, projectID string) (bool, error) {
	n, err := r.client.Exists(ctx, CancelKey(projectID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisCancelRegistry) Clear(ctx context.Context, projectID string) error {
	return r.client.Del(ctx, CancelKey(projectID)).Err()
}
