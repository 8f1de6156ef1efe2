package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johndosdos/chatterd/internal/model"
)

// LastSeenStore keeps the last activity time of offline participants.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, site model.SiteID, p model.Participant, t time.Time) error
	GetLastSeen(ctx context.Context, site model.SiteID, p model.Participant) (time.Time, bool, error)
}

// MemoryLastSeen is a process-local LastSeenStore.
type MemoryLastSeen struct {
	mu   sync.RWMutex
	seen map[identity]time.Time
}

func NewMemoryLastSeen() *MemoryLastSeen {
	return &MemoryLastSeen{seen: make(map[identity]time.Time)}
}

func (m *MemoryLastSeen) SetLastSeen(_ context.Context, site model.SiteID, p model.Participant, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen[identity{site: site, participant: p}] = t
	return nil
}

func (m *MemoryLastSeen) GetLastSeen(_ context.Context, site model.SiteID, p model.Participant) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.seen[identity{site: site, participant: p}]
	return t, ok, nil
}

const defaultLastSeenTTL = 30 * 24 * time.Hour

// RedisLastSeen stores last-seen times as unix milliseconds so every node
// answers the same.
type RedisLastSeen struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLastSeen returns a Redis-backed store. Keys look like
// "<prefix><site>:<kind>:<id>".
func NewRedisLastSeen(client *redis.Client, prefix string, ttl time.Duration) *RedisLastSeen {
	if prefix == "" {
		prefix = "presence:"
	}
	if ttl <= 0 {
		ttl = defaultLastSeenTTL
	}
	return &RedisLastSeen{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLastSeen) key(site model.SiteID, p model.Participant) string {
	return r.prefix + string(site) + ":" + p.String()
}

func (r *RedisLastSeen) SetLastSeen(ctx context.Context, site model.SiteID, p model.Participant, t time.Time) error {
	if err := r.client.Set(ctx, r.key(site, p), t.UnixMilli(), r.ttl).Err(); err != nil {
		return fmt.Errorf("presence: redis set: %w", err)
	}
	return nil
}

func (r *RedisLastSeen) GetLastSeen(ctx context.Context, site model.SiteID, p model.Participant) (time.Time, bool, error) {
	ms, err := r.client.Get(ctx, r.key(site, p)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("presence: redis get: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}
