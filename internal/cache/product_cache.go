package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultTTL       = 30 * time.Second
	defaultOpTimeout = 200 * time.Millisecond

	productKeyPrefix = "checkout:product:"
)

// ErrCacheMiss возвращается KV-хранилищем при отсутствии ключа.
var ErrCacheMiss = errors.New("cache: key not found")

// KV — минимальный контракт кэш-хранилища. Выделен в интерфейс, чтобы
// тесты работали без запущенного Redis.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisKV адаптирует go-redis клиент к контракту KV.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV оборачивает клиент Redis.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

var _ KV = (*RedisKV)(nil)

// ProductReader — читающая часть каталога.
type ProductReader interface {
	Get(id string) (domain.Product, error)
}

// ProductCache — cache-aside декоратор над каталогом.
//
// Промахи по одному ключу схлопываются через singleflight в одно
// обращение к хранилищу. Кэш вспомогательный: любая ошибка Redis
// деградирует в прямое чтение, а не в отказ. ErrProductNotFound не
// кэшируется, чтобы только что засиженный товар был виден сразу.
type ProductCache struct {
	source ProductReader
	kv     KV
	group  singleflight.Group
	ttl    time.Duration
	logger *log.Entry
}

// NewProductCache создаёт декоратор с заданным TTL. Нулевой ttl
// заменяется умолчанием.
func NewProductCache(source ProductReader, kv KV, ttl time.Duration, logger *log.Entry) *ProductCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "product-cache")
	}
	return &ProductCache{
		source: source,
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// Get возвращает товар из кэша либо из источника с заполнением кэша.
func (c *ProductCache) Get(id string) (domain.Product, error) {
	key := productKeyPrefix + id

	if product, ok := c.lookup(key); ok {
		return product, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		if product, ok := c.lookup(key); ok {
			return product, nil
		}

		product, err := c.source.Get(id)
		if err != nil {
			return domain.Product{}, err
		}
		c.store(key, product)
		return product, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return value.(domain.Product), nil
}

// Invalidate сбрасывает кэшированную запись товара, например после
// списания стока.
func (c *ProductCache) Invalidate(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if err := c.kv.Del(ctx, productKeyPrefix+id); err != nil {
		c.logger.WithError(err).WithField("product_id", id).Debug("cache invalidation failed")
	}
}

func (c *ProductCache) lookup(key string) (domain.Product, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WithError(err).WithField("key", key).Debug("cache read failed, falling back to source")
		}
		return domain.Product{}, false
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(raw), &product); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("corrupted cache entry, dropping")
		_ = c.kv.Del(ctx, key)
		return domain.Product{}, false
	}
	return product, true
}

func (c *ProductCache) store(key string, product domain.Product) {
	raw, err := json.Marshal(product)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to marshal product for cache")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()
	if err := c.kv.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("cache write failed")
	}
}
