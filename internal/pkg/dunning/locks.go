package dunning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Locker serializes mutations per subscription so the batch engine and the
// webhook reconciler never race on the same row.
type Locker interface {
	// Acquire returns a release func, or ok=false when another worker holds
	// the subscription.
	Acquire(ctx context.Context, subscriptionID uint) (release func(), ok bool)
}

const lockTTL = 2 * time.Minute

// redisLocker takes a short lease in Redis. The TTL is a crash guard: the
// holder releases explicitly on the happy path.
type redisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a Locker over the shared Redis client.
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Acquire(ctx context.Context, subscriptionID uint) (func(), bool) {
	key := fmt.Sprintf("dunning:lock:%d", subscriptionID)
	ok, err := l.client.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		log.Warnf("[Dunning] lock %s unavailable: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := l.client.Del(context.Background(), key).Err(); err != nil {
			log.Warnf("[Dunning] releasing lock %s: %v", key, err)
		}
	}, true
}

// localLocker is the in-process fallback used by tests and single-instance
// deployments without a cache.
type localLocker struct {
	mu   sync.Mutex
	held map[uint]bool
}

// NewLocalLocker creates an in-process Locker.
func NewLocalLocker() Locker {
	return &localLocker{held: make(map[uint]bool)}
}

func (l *localLocker) Acquire(_ context.Context, subscriptionID uint) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[subscriptionID] {
		return nil, false
	}
	l.held[subscriptionID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, subscriptionID)
	}, true
}
