package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
)

const (
	registryKey = "caches"
	syncTagsKey = "sync:tags"
)

// Storage is the interception process's named-cache registry. Each cache is
// one hash (request key -> JSON response); the registry is a sorted set
// ordered by creation time.
type Storage struct{ c *redis.Client }

var (
	_ domain.CacheStorage = (*Storage)(nil)
	_ domain.SyncRegistry = (*Storage)(nil)
)

func New(addr, pass string, db int) *Storage {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}))
}

func NewFromClient(c *redis.Client) *Storage { return &Storage{c: c} }

func (s *Storage) Ping(ctx context.Context) error { return s.c.Ping(ctx).Err() }

func (s *Storage) Close() error { return s.c.Close() }

func entriesKey(name string) string { return "cache:" + name }

// Open returns the named cache, registering it if new.
func (s *Storage) Open(ctx context.Context, name string) (domain.Cache, error) {
	err := s.c.ZAddNX(ctx, registryKey, redis.Z{Score: float64(time.Now().UnixNano()), Member: name}).Err()
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &Cache{c: s.c, name: name}, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	err := s.c.ZScore(ctx, registryKey, name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

// Names lists caches in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	return s.c.ZRange(ctx, registryKey, 0, -1).Result()
}

// Delete drops a cache and all of its entries.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, registryKey, name)
		p.Del(ctx, entriesKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	observability.ObserveCache(name, "delete")
	return removed.Val() > 0, nil
}

// Match searches every cache in creation order.
func (s *Storage) Match(ctx context.Context, key string) (*domain.StoredResponse, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, n := range names {
		c := &Cache{c: s.c, name: n}
		if r, ok, err := c.Match(ctx, key); err != nil || ok {
			return r, ok, err
		}
	}
	return nil, false, nil
}

// Cache is one named cache.
type Cache struct {
	c    *redis.Client
	name string
}

var _ domain.Cache = (*Cache)(nil)

func (r *Cache) Name() string { return r.name }

func (r *Cache) Match(ctx context.Context, key string) (*domain.StoredResponse, bool, error) {
	v, err := r.c.HGet(ctx, entriesKey(r.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCache(r.name, "miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	observability.ObserveCache(r.name, "hit")
	var sr domain.StoredResponse
	if err := json.Unmarshal(v, &sr); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return &sr, true, nil
}

// Put overwrites any entry stored under key.
func (r *Cache) Put(ctx context.Context, key string, sr *domain.StoredResponse) error {
	b, err := json.Marshal(sr)
	if err != nil {
		return err
	}
	observability.ObserveCache(r.name, "put")
	return r.c.HSet(ctx, entriesKey(r.name), key, b).Err()
}

func (r *Cache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.c.HDel(ctx, entriesKey(r.name), key).Result()
	if err != nil {
		return false, err
	}
	observability.ObserveCache(r.name, "delete")
	return n > 0, nil
}

// Keys lists the cache's request keys, sorted.
func (r *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.c.HKeys(ctx, entriesKey(r.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// ---- wake-up tags ----

func (s *Storage) AddTag(ctx context.Context, tag string) error {
	return s.c.SAdd(ctx, syncTagsKey, tag).Err()
}

func (s *Storage) Tags(ctx context.Context) ([]string, error) {
	tags, err := s.c.SMembers(ctx, syncTagsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

func (s *Storage) RemoveTag(ctx context.Context, tag string) error {
	return s.c.SRem(ctx, syncTagsKey, tag).Err()
}
