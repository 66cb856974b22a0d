package port

import (
	"context"

	"candleflow/internal/domain/model"
)

type CachePort interface {
	SetView(ctx context.Context, view model.View) error
	GetView(ctx context.Context, symbol string, tf model.Timeframe) (*model.View, error)
	SetLatestPrice(ctx context.Context, symbol string, price model.LatestPrice) error
	GetLatestPrice(ctx context.Context, symbol string) (*model.LatestPrice, error)
	Ping(ctx context.Context) error
	Close() error
}
