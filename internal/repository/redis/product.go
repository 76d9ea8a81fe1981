package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akshay-ctas/server/internal/domain"
)

const (
	idKeyPrefix   = "catalog:product:id:"
	slugKeyPrefix = "catalog:product:slug:"
)

// ProductCache implements repository.ProductCache using Redis. Entries hold
// the serialized aggregate, including its version, under both id and slug.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProductCache creates a new Redis-backed product cache.
func NewProductCache(client *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{
		client: client,
		ttl:    ttl,
	}
}

// GetByID returns the cached product for id, or nil on a miss.
func (c *ProductCache) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	return c.get(ctx, idKeyPrefix+id)
}

// GetBySlug returns the cached product for slug, or nil on a miss.
func (c *ProductCache) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	return c.get(ctx, slugKeyPrefix+slug)
}

func (c *ProductCache) get(ctx context.Context, key string) (*domain.Product, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get product: %w", err)
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}

	return &p, nil
}

// Set stores p under its id and slug with the configured TTL.
func (c *ProductCache) Set(ctx context.Context, p *domain.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, idKeyPrefix+p.ID, data, c.ttl)
		pipe.Set(ctx, slugKeyPrefix+p.Slug, data, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set product: %w", err)
	}

	return nil
}

// Invalidate removes the id entry and the given slug entries.
func (c *ProductCache) Invalidate(ctx context.Context, id string, slugs ...string) error {
	keys := []string{idKeyPrefix + id}
	for _, s := range slugs {
		if s != "" {
			keys = append(keys, slugKeyPrefix+s)
		}
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del product: %w", err)
	}

	return nil
}
