package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"candleflow/internal/domain/model"
)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	TTL          time.Duration
}

func NewRedisAdapter(opts RedisOptions) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisAdapter{
		client: client,
		ttl:    ttl,
	}, nil
}

func viewKey(symbol string, tf model.Timeframe) string {
	return "view:" + tf.Key(symbol)
}

func latestKey(symbol string) string {
	return "latest:" + symbol
}

func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// SetView overwrites the cached view of the chart.
func (a *RedisAdapter) SetView(ctx context.Context, view model.View) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}
	if err := a.client.Set(ctx, viewKey(view.Symbol, view.Timeframe), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set view in redis: %w", err)
	}
	return nil
}

func (a *RedisAdapter) GetView(ctx context.Context, symbol string, tf model.Timeframe) (*model.View, error) {
	data, err := a.client.Get(ctx, viewKey(symbol, tf)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get view from redis: %w", err)
	}

	var view model.View
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal view: %w", err)
	}
	return &view, nil
}

func (a *RedisAdapter) SetLatestPrice(ctx context.Context, symbol string, price model.LatestPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}
	if err := a.client.Set(ctx, latestKey(symbol), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest price in redis: %w", err)
	}
	return nil
}

func (a *RedisAdapter) GetLatestPrice(ctx context.Context, symbol string) (*model.LatestPrice, error) {
	data, err := a.client.Get(ctx, latestKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest price from redis: %w", err)
	}

	var price model.LatestPrice
	if err := json.Unmarshal(data, &price); err != nil {
		return nil, fmt.Errorf("failed to unmarshal price: %w", err)
	}
	return &price, nil
}

func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
