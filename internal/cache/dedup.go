// Package cache remembers which chat updates were already handled so a
// redelivered update is not answered twice.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fitness-bot:update:"

type Deduper interface {
	// FirstSeen marks id as seen and reports whether this was the first time.
	FirstSeen(ctx context.Context, id int) (bool, error)
	Close() error
}

type RedisDeduper struct {
	conn *redis.Client
	ttl  time.Duration
}

func NewRedisDeduper(ctx context.Context, addr string, ttl time.Duration) (*RedisDeduper, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisDeduper{conn: client, ttl: ttl}, nil
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, id int) (bool, error) {
	ok, err := d.conn.SetNX(ctx, fmt.Sprintf("%s%d", keyPrefix, id), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking update %d: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Close() error {
	return d.conn.Close()
}

// MemoryDeduper keeps seen ids in process memory. Used when no Redis URL
// is configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[int]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		seen: make(map[int]time.Time),
		now:  time.Now,
	}
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, id int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)

	// Sweep expired ids once the map grows.
	if len(d.seen) > 10000 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}

func (d *MemoryDeduper) Close() error { return nil }

// New returns a Redis deduper when url is set, else an in-memory one.
func New(ctx context.Context, url string, ttl time.Duration) (Deduper, error) {
	if url == "" {
		return NewMemoryDeduper(ttl), nil
	}
	return NewRedisDeduper(ctx, url, ttl)
}
