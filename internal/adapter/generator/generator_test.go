package generator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"candleflow/internal/domain/model"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingWriter struct {
	mu   sync.Mutex
	bars map[string][]model.Bar
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{bars: make(map[string][]model.Bar)}
}

func (w *recordingWriter) SaveBars(_ context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := tf.Key(symbol)
	w.bars[key] = append(w.bars[key], bars...)
	return nil
}

func (w *recordingWriter) get(symbol string, tf model.Timeframe) []model.Bar {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Bar(nil), w.bars[tf.Key(symbol)]...)
}

var minute = model.Timeframe{Size: 1, Unit: model.Minute}

func TestStepEmitsTicksAndCompletedCandles(t *testing.T) {
	store := newRecordingWriter()
	g := NewGenerator(Options{Seed: 7}, store, testLog)
	require.NoError(t, g.Send(model.SubscribeRequest{Symbol: "BTCUSDT", Timeframe: minute}))

	var msgs []model.SymbolDataMessage
	unsub := g.Subscribe(func(m model.SymbolDataMessage) { msgs = append(msgs, m) })
	defer unsub()

	ctx := context.Background()
	for ts := int64(60); ts < 121; ts++ {
		g.Step(ctx, time.Unix(ts, 0))
	}

	var ticks, completed []model.SymbolDataMessage
	for _, m := range msgs {
		require.Equal(t, "BTCUSDT", m.Symbol)
		if m.IsTick() {
			ticks = append(ticks, m)
		} else {
			completed = append(completed, m)
		}
	}
	require.Len(t, ticks, 61)
	require.Len(t, completed, 1)
	require.Equal(t, minute, completed[0].Timeframe)
	require.Equal(t, 60.0, completed[0].OHLC.Time)

	// the completed candle folds the 60 ticks of its period
	c := completed[0].OHLC
	require.Equal(t, ticks[0].OHLC.Close, c.Open)
	require.Equal(t, ticks[59].OHLC.Close, c.Close)
	for _, tk := range ticks[:60] {
		require.GreaterOrEqual(t, c.High, tk.OHLC.Close)
		require.LessOrEqual(t, c.Low, tk.OHLC.Close)
	}

	require.Len(t, store.get("BTCUSDT", model.BaseTimeframe), 61)
	saved := store.get("BTCUSDT", minute)
	require.Len(t, saved, 1)
	require.Equal(t, int64(60), saved[0].Time)
}

func TestSameSeedSameWalk(t *testing.T) {
	run := func() []float64 {
		g := NewGenerator(Options{Seed: 42, Symbols: []string{"ETHUSDT"}}, nil, testLog)
		var out []float64
		g.Subscribe(func(m model.SymbolDataMessage) { out = append(out, m.OHLC.Close) })
		for ts := int64(0); ts < 10; ts++ {
			g.Step(context.Background(), time.Unix(ts, 0))
		}
		return out
	}
	require.Equal(t, run(), run())
}

func TestSendRejectsInvalidTimeframe(t *testing.T) {
	g := NewGenerator(Options{}, nil, testLog)
	err := g.Send(model.SubscribeRequest{Symbol: "X", Timeframe: model.Timeframe{Size: 0, Unit: model.Minute}})
	require.Error(t, err)
}

func TestBackfillFoldsClosedPeriods(t *testing.T) {
	store := newRecordingWriter()
	g := NewGenerator(Options{Seed: 1}, store, testLog)

	from := time.Unix(600, 0)
	to := time.Unix(600+150, 0)
	require.NoError(t, g.Backfill(context.Background(), "SOLUSDT", []model.Timeframe{model.BaseTimeframe, minute}, from, to))

	require.Len(t, store.get("SOLUSDT", model.BaseTimeframe), 150)
	folded := store.get("SOLUSDT", minute)
	// 600 and 660 are closed, 720 is still open at 750
	require.Len(t, folded, 2)
	require.Equal(t, int64(600), folded[0].Time)
	require.Equal(t, int64(660), folded[1].Time)
}

func TestConnectAndDisconnect(t *testing.T) {
	g := NewGenerator(Options{Interval: 5 * time.Millisecond, Symbols: []string{"BTCUSDT"}}, nil, testLog)
	got := make(chan model.SymbolDataMessage, 64)
	g.Subscribe(func(m model.SymbolDataMessage) {
		select {
		case got <- m:
		default:
		}
	})

	require.NoError(t, g.Connect(context.Background()))
	require.True(t, g.IsConnected())
	select {
	case m := <-got:
		require.True(t, m.IsTick())
	case <-time.After(2 * time.Second):
		t.Fatal("generator produced nothing")
	}
	require.NoError(t, g.Disconnect())
	require.False(t, g.IsConnected())
}
