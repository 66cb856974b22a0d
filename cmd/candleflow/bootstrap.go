package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"candleflow/internal/adapter/cache"
	"candleflow/internal/adapter/generator"
	"candleflow/internal/adapter/storage"
	"candleflow/internal/adapter/stream"
	"candleflow/internal/application/service"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
	"candleflow/internal/infrastructure/config"
)

// loadConfig читает файл, если он есть; иначе берёт значения по умолчанию и env.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.SQLStore, error) {
	store, err := storage.NewSQLStore(storage.Options{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.StorageDSN(),
		MaxOpenConns:    cfg.PostgreSQL.MaxOpenConns,
		MaxIdleConns:    cfg.PostgreSQL.MaxIdleConns,
		ConnMaxLifetime: cfg.PostgreSQL.ConnMaxLifetime,
		HistoryLimit:    cfg.Storage.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// openCache: Redis, если включён, иначе кеш в памяти процесса.
func openCache(cfg *config.Config, log *slog.Logger) (port.CachePort, bool, error) {
	if !cfg.Redis.Enabled {
		log.Info("redis disabled, using in-process cache")
		return cache.NewMemoryCache(), false, nil
	}
	redis, err := cache.NewRedisAdapter(cache.RedisOptions{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		TTL:          cfg.Redis.TTL,
	})
	if err != nil {
		return nil, false, err
	}
	return redis, true, nil
}

// streamFactory строит транспорт по режиму. Синтетическая история дописывается
// один раз, при первом создании генератора.
func streamFactory(cfg *config.Config, store *storage.SQLStore, log *slog.Logger) service.StreamFactory {
	var backfill sync.Once

	return func(mode model.DataMode) (port.StreamPort, error) {
		switch mode {
		case model.LiveMode:
			if cfg.Stream.URL == "" {
				return nil, errors.New("stream.url is not configured")
			}
			return stream.NewWebSocketClient(stream.Options{
				URL:                  cfg.Stream.URL,
				ConnectionTimeout:    cfg.Stream.ConnectionTimeout,
				ReconnectDelay:       cfg.Stream.ReconnectDelay,
				MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
				WriteTimeout:         cfg.Stream.WriteTimeout,
			}, log), nil

		case model.TestMode:
			gen := generator.NewGenerator(generator.Options{
				Symbols:    cfg.Symbols(),
				Interval:   cfg.TestGenerator.Interval,
				Seed:       cfg.TestGenerator.Seed,
				StartPrice: cfg.TestGenerator.StartPrice,
			}, store, log)

			var err error
			backfill.Do(func() { err = backfillCharts(gen, cfg, log) })
			if err != nil {
				return nil, err
			}
			return gen, nil

		default:
			return nil, fmt.Errorf("unknown mode %q", mode.String())
		}
	}
}

func backfillCharts(gen *generator.Generator, cfg *config.Config, log *slog.Logger) error {
	if cfg.TestGenerator.Backfill <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	to := time.Now().Truncate(time.Second)
	from := to.Add(-cfg.TestGenerator.Backfill)
	for _, ch := range cfg.Charts {
		tf, err := model.ParseTimeframe(ch.Timeframe)
		if err != nil {
			return err
		}
		if err := gen.Backfill(ctx, ch.Symbol, []model.Timeframe{tf}, from, to); err != nil {
			return fmt.Errorf("backfill %s: %w", ch.Symbol, err)
		}
	}
	log.Info("synthetic history written", "charts", len(cfg.Charts), "span", cfg.TestGenerator.Backfill.String())
	return nil
}

func controllerConfig(cfg *config.Config, symbol string, tf model.Timeframe) service.ControllerConfig {
	return service.ControllerConfig{
		Symbol:       symbol,
		Timeframe:    tf,
		Throttle:     cfg.Controller.Throttle,
		FetchTimeout: cfg.Controller.FetchTimeout,
		ViewBuffer:   cfg.Controller.ViewBuffer,
	}
}

func configChart(symbol string, tf model.Timeframe) config.ChartConfig {
	return config.ChartConfig{Symbol: symbol, Timeframe: tf.String()}
}
