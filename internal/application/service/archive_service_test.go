package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"candleflow/internal/domain/model"
)

type staticSource struct {
	mu sync.Mutex
	v  model.View
}

func (s *staticSource) Snapshot() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Clone()
}

func (s *staticSource) set(v model.View) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

type saveCall struct {
	key  string
	bars []model.Bar
}

type recordingWriter struct {
	mu    sync.Mutex
	calls []saveCall
	err   error
}

func (w *recordingWriter) SaveBars(_ context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, saveCall{key: tf.Key(symbol), bars: append([]model.Bar(nil), bars...)})
	return nil
}

func (w *recordingWriter) snapshot() []saveCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]saveCall(nil), w.calls...)
}


func archiveBars(times ...int64) []model.Bar {
	out := make([]model.Bar, len(times))
	for i, ts := range times {
		out[i] = model.Bar{Time: ts, Open: 1, High: 1, Low: 1, Close: 1}
	}
	return out
}

func TestArchiveFlushWritesOnlyNewBars(t *testing.T) {
	w := &recordingWriter{}
	src := &staticSource{v: model.View{Symbol: "BTCUSDT", Timeframe: oneMinute, Settled: true, Historical: archiveBars(0, 60, 120)}}
	unsettled := &staticSource{v: model.View{Symbol: "ETHUSDT", Timeframe: oneMinute, Historical: archiveBars(0)}}

	a := NewArchiveService(w, testLog)
	a.SetSources(src, unsettled)

	n, err := a.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	src.set(model.View{Symbol: "BTCUSDT", Timeframe: oneMinute, Settled: true, Historical: archiveBars(0, 60, 120, 180)})
	n, err = a.Flush(context.Background())
	require.NoError(t, err)
	// the last saved bar is rewritten in case it changed
	require.Equal(t, 2, n)

	calls := w.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "BTCUSDT-1-minute", calls[0].key)
	require.Equal(t, int64(120), calls[1].bars[0].Time)
	require.Equal(t, int64(180), calls[1].bars[1].Time)
}

func TestArchiveFailureRetriesNextCycle(t *testing.T) {
	w := &recordingWriter{err: errors.New("db down")}
	src := &staticSource{v: model.View{Symbol: "BTCUSDT", Timeframe: oneMinute, Settled: true, Historical: archiveBars(0, 60)}}
	a := NewArchiveService(w, testLog)
	a.SetSources(src)

	_, err := a.Flush(context.Background())
	require.Error(t, err)

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	n, err := a.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestArchiveStopRunsFinalFlush(t *testing.T) {
	w := &recordingWriter{}
	src := &staticSource{v: model.View{Symbol: "BTCUSDT", Timeframe: oneMinute, Settled: true, Historical: archiveBars(0)}}
	a := NewArchiveService(w, testLog)
	a.SetSources(src)

	a.Start(context.Background(), time.Hour)
	a.Stop()
	a.Stop()

	require.Len(t, w.snapshot(), 1)
}
