package port

import (
	"context"
	"time"

	"candleflow/internal/domain/model"
)

// HistoryPort serves committed bars and the open-period snapshot.
type HistoryPort interface {
	FetchHistorical(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error)
	// FetchBootstrap returns nil when no tick is recorded for the open period.
	FetchBootstrap(ctx context.Context, symbol string, tf model.Timeframe, now time.Time) (*model.BootstrapSnapshot, error)
}

type HistoryWriter interface {
	SaveBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error
}

// StoragePort is the full store used by the service wiring.
type StoragePort interface {
	HistoryPort
	HistoryWriter
	InitSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
