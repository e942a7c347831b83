package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/billing/internal/core/domain"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// Returns -1 when the product has no stock key, 0 when stock is short and 1
// after a successful decrement.
var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

var incrementStockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
return redis.call('INCRBY', key, tonumber(ARGV[1]))
`)

// RedisAdapter keeps stock counters in Redis and claims idempotency keys.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	key := stockKeyPrefix + productID

	result, err := decrementStockScript.Run(ctx, r.client, []string{key}, quantity).Int()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	switch result {
	case -1:
		return false, domain.ErrProductNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (r *RedisAdapter) IncrementStock(ctx context.Context, productID string, quantity int) error {
	key := stockKeyPrefix + productID

	result, err := incrementStockScript.Run(ctx, r.client, []string{key}, quantity).Int()
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if result == -1 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *RedisAdapter) GetStock(ctx context.Context, productID string) (int, error) {
	stock, err := r.client.Get(ctx, stockKeyPrefix+productID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return stock, nil
}

// SetStock overwrites the counter; used to load stock from the catalog.
func (r *RedisAdapter) SetStock(ctx context.Context, productID string, quantity int) error {
	key := stockKeyPrefix + productID
	return r.client.Set(ctx, key, quantity, 0).Err()
}

// InitStock sets the counter only when Redis has none for the product yet, so
// a restart does not overwrite reservations made since the catalog was read.
func (r *RedisAdapter) InitStock(ctx context.Context, productID string, quantity int) (bool, error) {
	ok, err := r.client.SetNX(ctx, stockKeyPrefix+productID, quantity, 0).Result()
	if err != nil {
		return false, fmt.Errorf("init stock: %w", err)
	}
	return ok, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
