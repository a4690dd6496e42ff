package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PeerCache keeps relay identities reserved after their socket goes away,
// so that only the previous owner can take them back during the grace period.
type PeerCache interface {
	Hold(ctx context.Context, peerID string, ttl time.Duration) error
	Held(ctx context.Context, peerID string) (bool, error)
	Release(ctx context.Context, peerID string) error
}

type peerCache struct {
	client *redis.Client
}

// NewPeerCache creates a redis-backed peer cache
func NewPeerCache(client *redis.Client) PeerCache {
	return &peerCache{client: client}
}

func (c *peerCache) key(peerID string) string {
	return "peer:" + peerID
}

func (c *peerCache) Hold(ctx context.Context, peerID string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(peerID), time.Now().Unix(), ttl).Err()
}

func (c *peerCache) Held(ctx context.Context, peerID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(peerID)).Result()
	return n > 0, err
}

func (c *peerCache) Release(ctx context.Context, peerID string) error {
	return c.client.Del(ctx, c.key(peerID)).Err()
}

// MemoryPeerCache is a process-local PeerCache for a single relay instance.
type MemoryPeerCache struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryPeerCache creates an empty in-process peer cache.
func NewMemoryPeerCache() *MemoryPeerCache {
	return &MemoryPeerCache{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (c *MemoryPeerCache) Hold(_ context.Context, peerID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[peerID] = c.now().Add(ttl)
	return nil
}

func (c *MemoryPeerCache) Held(_ context.Context, peerID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[peerID]
	if !ok {
		return false, nil
	}
	if !c.now().Before(until) {
		delete(c.until, peerID)
		return false, nil
	}
	return true, nil
}

func (c *MemoryPeerCache) Release(_ context.Context, peerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, peerID)
	return nil
}
