// Package cache provides a Redis cache-aside layer for catalog reads.
package cache

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/dscommerce/internal/domain/product"
)

// ErrMiss is returned by a Store when the key is absent.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key-value store with expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

var _ Store = (*RedisStore)(nil)

// RedisStore implements Store on a go-redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Ping checks connectivity, for the readiness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ product.Repository = (*Products)(nil)

// DefaultTombstoneTTL is how long a write blocks repopulation of the entry it
// invalidated. It must outlast any single load from the inner repository.
const DefaultTombstoneTTL = 10 * time.Second

// tombstone marks an entry invalidated by a write. It never decodes as a
// product.
var tombstone = []byte("-")

// Products decorates a product.Repository with a cache-aside lookup for
// single products. Writes go to the inner repository first and then replace
// the cached entry with a short-lived tombstone. Loads only fill absent keys,
// so a load that read the row before a write cannot overwrite the tombstone
// with stale data. Cache failures fall back to the inner repository.
type Products struct {
	product.Repository

	store        Store
	ttl          time.Duration
	tombstoneTTL time.Duration
	group        singleflight.Group
}

// NewProducts wraps inner with a cache held in store for ttl.
func NewProducts(inner product.Repository, store Store, ttl time.Duration) *Products {
	return &Products{
		Repository:   inner,
		store:        store,
		ttl:          ttl,
		tombstoneTTL: DefaultTombstoneTTL,
	}
}

func productKey(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}

// GetByID returns the cached product or loads it from the inner repository.
// Concurrent misses for the same id share one load. The shared load is not
// bound to the cancellation of whichever caller started it.
func (c *Products) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	key := productKey(id)
	if p, ok := c.lookup(ctx, key); ok {
		return p, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		p, err := c.Repository.GetByID(loadCtx, id)
		if err != nil {
			return nil, err
		}
		if _, err := c.store.SetNX(loadCtx, key, encodeProduct(p), c.ttl); err != nil {
			zctx.From(ctx).Warn("Cache product", zap.Int64("product_id", id), zap.Error(err))
		}
		return p, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// Callers get their own copy so the shared result is never mutated.
	p := *res.Val.(*product.Product)
	p.Categories = append([]product.Category(nil), p.Categories...)
	return &p, nil
}

// Update updates the inner repository and invalidates the cached entry.
func (c *Products) Update(ctx context.Context, p *product.Product) error {
	if err := c.Repository.Update(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

// Delete deletes from the inner repository and invalidates the cached entry.
func (c *Products) Delete(ctx context.Context, id int64) error {
	if err := c.Repository.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *Products) lookup(ctx context.Context, key string) (*product.Product, bool) {
	b, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			zctx.From(ctx).Warn("Read product cache", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if bytes.Equal(b, tombstone) {
		return nil, false
	}
	p, err := decodeProduct(b)
	if err != nil {
		zctx.From(ctx).Warn("Decode cached product", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return p, true
}

// invalidate tombstones the entry and detaches any in-flight load, so later
// readers start a fresh one.
func (c *Products) invalidate(ctx context.Context, id int64) {
	key := productKey(id)
	c.group.Forget(key)
	if err := c.store.Set(context.WithoutCancel(ctx), key, tombstone, c.tombstoneTTL); err != nil {
		zctx.From(ctx).Warn("Invalidate product cache", zap.Int64("product_id", id), zap.Error(err))
	}
}
