package port

import (
	"context"

	"candleflow/internal/domain/model"
)

// StreamPort is a duplex market data channel.
type StreamPort interface {
	Connect(ctx context.Context) error
	Send(msg model.SubscribeRequest) error
	// Subscribe registers fn for every decoded frame and returns an
	// unsubscribe func that is safe to call more than once.
	Subscribe(fn func(model.SymbolDataMessage)) func()
	Disconnect() error
	IsConnected() bool
	Name() string
}
