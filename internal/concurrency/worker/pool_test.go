package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"candleflow/internal/adapter/cache"
	"candleflow/internal/domain/model"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type failingCache struct {
	*cache.MemoryCache
}

func (failingCache) SetView(context.Context, model.View) error {
	return errors.New("redis down")
}

type recordingWriter struct {
	mu    sync.Mutex
	saved map[string][]model.Bar
}

func (w *recordingWriter) SaveBars(_ context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.saved == nil {
		w.saved = map[string][]model.Bar{}
	}
	w.saved[tf.Key(symbol)] = append([]model.Bar(nil), bars...)
	return nil
}

func views() []model.View {
	tf := model.Timeframe{Size: 1, Unit: model.Minute}
	return []model.View{
		{Symbol: "BTCUSDT", Timeframe: tf, Historical: []model.Bar{{Time: 60, Close: 1}}, Revision: 1},
		{Symbol: "ETHUSDT", Timeframe: tf, Historical: []model.Bar{{Time: 60, Close: 2}}, Revision: 1},
		{Symbol: "BTCUSDT", Timeframe: tf, Historical: []model.Bar{{Time: 60, Close: 1}}, Forming: &model.Bar{Time: 120, Close: 1.2}, Revision: 2},
	}
}

func run(t *testing.T, p *Pool, in []model.View) []model.View {
	t.Helper()
	ch := make(chan model.View)
	out := p.Start(context.Background(), ch)
	go func() {
		for _, v := range in {
			ch <- v
		}
		close(ch)
	}()
	var got []model.View
	for v := range out {
		got = append(got, v)
	}
	return got
}

func TestPoolCachesLatestRevision(t *testing.T) {
	mem := cache.NewMemoryCache()
	p := NewPool(3, mem, &recordingWriter{}, "test", testLog)

	processed := run(t, p, views())
	require.Len(t, processed, 3)

	v, err := mem.GetView(context.Background(), "BTCUSDT", model.Timeframe{Size: 1, Unit: model.Minute})
	require.NoError(t, err)
	require.Equal(t, uint64(2), v.Revision)

	price, err := mem.GetLatestPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 1.2, price.Price)
	require.Equal(t, "test", price.Source)

	price, err = mem.GetLatestPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.Equal(t, 2.0, price.Price)
}

func TestPoolFallsBackToStorage(t *testing.T) {
	w := &recordingWriter{}
	p := NewPool(0, failingCache{cache.NewMemoryCache()}, w, "test", testLog)

	processed := run(t, p, views())
	require.Len(t, processed, 3)
	require.Equal(t, []model.Bar{{Time: 60, Close: 2}}, w.saved["ETHUSDT-1-minute"])
	require.Equal(t, []model.Bar{{Time: 60, Close: 1}}, w.saved["BTCUSDT-1-minute"])
}
