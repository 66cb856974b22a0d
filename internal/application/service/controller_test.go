package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"candleflow/internal/domain/model"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fetchResult struct {
	bars []model.Bar
	snap *model.BootstrapSnapshot
	hErr error
	bErr error
	// gate blocks FetchBootstrap until closed
	gate chan struct{}
}

type fakeHistory struct {
	mu        sync.Mutex
	results   map[string]*fetchResult
	bootCalls map[string]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{results: map[string]*fetchResult{}, bootCalls: map[string]int{}}
}

func (h *fakeHistory) set(symbol string, tf model.Timeframe, r *fetchResult) {
	h.mu.Lock()
	h.results[tf.Key(symbol)] = r
	h.mu.Unlock()
}

func (h *fakeHistory) get(symbol string, tf model.Timeframe) *fetchResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.results[tf.Key(symbol)]
	if !ok {
		return &fetchResult{}
	}
	return r
}

func (h *fakeHistory) FetchHistorical(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	r := h.get(symbol, tf)
	return append([]model.Bar(nil), r.bars...), r.hErr
}

func (h *fakeHistory) FetchBootstrap(ctx context.Context, symbol string, tf model.Timeframe, now time.Time) (*model.BootstrapSnapshot, error) {
	h.mu.Lock()
	h.bootCalls[tf.Key(symbol)]++
	h.mu.Unlock()

	r := h.get(symbol, tf)
	if r.gate != nil {
		<-r.gate
	}
	return r.snap, r.bErr
}

func (h *fakeHistory) calls(symbol string, tf model.Timeframe) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bootCalls[tf.Key(symbol)]
}

type fakeStream struct {
	mu   sync.Mutex
	sent []model.SubscribeRequest
	subs map[int]func(model.SymbolDataMessage)
	next int
}

func newFakeStream() *fakeStream {
	return &fakeStream{subs: map[int]func(model.SymbolDataMessage){}}
}

func (s *fakeStream) Connect(context.Context) error { return nil }
func (s *fakeStream) Disconnect() error              { return nil }
func (s *fakeStream) IsConnected() bool              { return true }
func (s *fakeStream) Name() string                   { return "fake" }

func (s *fakeStream) Send(req model.SubscribeRequest) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Subscribe(fn func(model.SymbolDataMessage)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeStream) emit(msg model.SymbolDataMessage) {
	s.mu.Lock()
	var fns []func(model.SymbolDataMessage)
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (s *fakeStream) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func tick(symbol string, ts, price float64) model.SymbolDataMessage {
	return model.SymbolDataMessage{
		Symbol:    symbol,
		Timeframe: model.BaseTimeframe,
		OHLC:      model.OHLC{Time: ts, Open: price, High: price, Low: price, Close: price},
	}
}

var oneMinute = model.Timeframe{Size: 1, Unit: model.Minute}

type harness struct {
	ctrl    *Controller
	history *fakeHistory
	stream  *fakeStream
	clock   *fakeClock
}

func newHarness(t *testing.T, symbol string, tf model.Timeframe) *harness {
	t.Helper()
	h := &harness{history: newFakeHistory(), stream: newFakeStream(), clock: newFakeClock()}
	h.ctrl = NewController(ControllerConfig{
		Symbol:    symbol,
		Timeframe: tf,
		Now:       h.clock.Now,
	}, h.history, h.stream, testLog)
	t.Cleanup(h.ctrl.Stop)
	return h
}

func TestControllerEndToEnd(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	h.history.set("BTCUSDT", oneMinute, &fetchResult{
		bars: []model.Bar{{Time: 60, Open: 1, High: 2, Low: 1, Close: 1.5}},
		snap: &model.BootstrapSnapshot{Open: 1.5, High: 1.6, Low: 1.4, PeriodStart: 120},
	})

	require.NoError(t, h.ctrl.Start(context.Background()))

	v := h.ctrl.Snapshot()
	require.True(t, v.Settled)
	require.Equal(t, []model.Bar{{Time: 60, Open: 1, High: 2, Low: 1, Close: 1.5}}, v.Historical)
	require.NotNil(t, v.Forming)
	require.Equal(t, model.Bar{Time: 120, Open: 1.5, High: 1.6, Low: 1.4, Close: 1.5}, *v.Forming)

	require.Equal(t, []model.SubscribeRequest{
		{Symbol: "BTCUSDT", Timeframe: model.BaseTimeframe},
		{Symbol: "BTCUSDT", Timeframe: oneMinute},
	}, h.stream.sent)
	require.Equal(t, 1, h.stream.subscribers())
}

func TestControllerBaseTimeframeSubscribesOnce(t *testing.T) {
	h := newHarness(t, "ETHUSDT", model.BaseTimeframe)
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Equal(t, []model.SubscribeRequest{{Symbol: "ETHUSDT", Timeframe: model.BaseTimeframe}}, h.stream.sent)
}

func TestControllerEpochGuard(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	five := model.Timeframe{Size: 5, Unit: model.Minute}
	gate := make(chan struct{})
	h.history.set("BTCUSDT", oneMinute, &fetchResult{
		bars: []model.Bar{{Time: 60, Close: 1}},
		snap: &model.BootstrapSnapshot{Open: 1, High: 1, Low: 1, Close: model.Float(1), PeriodStart: 120},
		gate: gate,
	})
	h.history.set("BTCUSDT", five, &fetchResult{
		bars: []model.Bar{{Time: 300, Close: 5}},
		snap: &model.BootstrapSnapshot{Open: 5, High: 6, Low: 4, Close: model.Float(5.5), PeriodStart: 600},
	})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Switch(context.Background(), "BTCUSDT", oneMinute) }()
	require.Eventually(t, func() bool { return h.history.calls("BTCUSDT", oneMinute) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.ctrl.Switch(context.Background(), "BTCUSDT", five))
	close(gate)
	require.NoError(t, <-done)

	v := h.ctrl.Snapshot()
	require.Equal(t, five, v.Timeframe)
	require.Equal(t, []model.Bar{{Time: 300, Close: 5}}, v.Historical)
	require.NotNil(t, v.Forming)
	require.Equal(t, int64(600), v.Forming.Time)
	require.Equal(t, 5.5, v.Forming.Close)
	require.Equal(t, "BTCUSDT-5-minute", h.ctrl.Key())
}

func TestControllerBootstrapFailureStillSettles(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	h.history.set("BTCUSDT", oneMinute, &fetchResult{
		bars: []model.Bar{{Time: 60, Close: 1.5}},
		bErr: errors.New("db down"),
	})
	require.NoError(t, h.ctrl.Start(context.Background()))

	v := h.ctrl.Snapshot()
	require.True(t, v.Settled)
	require.Nil(t, v.Forming)

	h.stream.emit(tick("BTCUSDT", 130, 2))
	v = h.ctrl.Snapshot()
	require.NotNil(t, v.Forming)
	require.Equal(t, model.Bar{Time: 120, Open: 1.5, High: 2, Low: 1.5, Close: 2}, *v.Forming)
}

func TestControllerHistoricalFailureKeepsLiveTicks(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	h.history.set("BTCUSDT", oneMinute, &fetchResult{
		hErr: errors.New("timeout"),
		snap: &model.BootstrapSnapshot{Open: 1, High: 1, Low: 1, PeriodStart: 120},
	})

	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, ErrFetchFailure)

	v := h.ctrl.Snapshot()
	require.True(t, v.Settled)
	require.Empty(t, v.Historical)
	require.NotNil(t, v.Forming)
	require.Equal(t, model.Bar{Time: 120, Open: 1, High: 1, Low: 1, Close: 1}, *v.Forming)

	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		h.stream.emit(tick("BTCUSDT", float64(130+i), 2+float64(i)))
	}
	v = h.ctrl.Snapshot()
	require.NotNil(t, v.Forming)
	require.Equal(t, model.Bar{Time: 120, Open: 1, High: 6, Low: 1, Close: 6}, *v.Forming)
}

func TestControllerTickGating(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	h.history.set("BTCUSDT", oneMinute, &fetchResult{bars: []model.Bar{{Time: 60, Close: 1}}})
	require.NoError(t, h.ctrl.Start(context.Background()))

	// other symbol
	h.stream.emit(tick("ETHUSDT", 130, 9))
	require.Nil(t, h.ctrl.Snapshot().Forming)

	h.stream.emit(tick("BTCUSDT", 130, 2))
	require.Equal(t, 2.0, h.ctrl.Snapshot().Forming.Close)

	// inside the throttle window
	h.clock.Advance(50 * time.Millisecond)
	h.stream.emit(tick("BTCUSDT", 131, 3))
	require.Equal(t, 2.0, h.ctrl.Snapshot().Forming.Close)

	h.clock.Advance(60 * time.Millisecond)
	h.stream.emit(tick("BTCUSDT", 132, 0.5))
	f := h.ctrl.Snapshot().Forming
	require.Equal(t, model.Bar{Time: 120, Open: 1, High: 2, Low: 0.5, Close: 0.5}, *f)

	// rotation into the next minute opens at the last committed close
	h.clock.Advance(time.Second)
	h.stream.emit(tick("BTCUSDT", 185, 4))
	v := h.ctrl.Snapshot()
	require.Equal(t, model.Bar{Time: 180, Open: 1, High: 4, Low: 1, Close: 4}, *v.Forming)
	require.Len(t, v.Historical, 1)
}

func TestControllerDropsTicksBeforeBootstrap(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	gate := make(chan struct{})
	h.history.set("BTCUSDT", oneMinute, &fetchResult{gate: gate})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(context.Background()) }()
	require.Eventually(t, func() bool { return h.history.calls("BTCUSDT", oneMinute) == 1 }, time.Second, time.Millisecond)

	h.stream.emit(tick("BTCUSDT", 130, 2))
	require.Nil(t, h.ctrl.Snapshot().Forming)

	close(gate)
	require.NoError(t, <-done)

	// the dropped tick did not consume the throttle window
	h.stream.emit(tick("BTCUSDT", 130, 2))
	require.NotNil(t, h.ctrl.Snapshot().Forming)
}

func TestControllerPromotesAtBaseTimeframe(t *testing.T) {
	h := newHarness(t, "BTCUSDT", model.BaseTimeframe)
	h.history.set("BTCUSDT", model.BaseTimeframe, &fetchResult{
		bars: []model.Bar{{Time: 99, Open: 1, High: 1, Low: 1, Close: 1}},
		snap: &model.BootstrapSnapshot{Open: 1, High: 1.2, Low: 1, Close: model.Float(1.1), PeriodStart: 100},
	})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.stream.emit(tick("BTCUSDT", 101, 1.3))
	v := h.ctrl.Snapshot()
	require.Equal(t, []model.Bar{
		{Time: 99, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: 100, Open: 1, High: 1.2, Low: 1, Close: 1.1},
	}, v.Historical)
	require.Equal(t, model.Bar{Time: 101, Open: 1.1, High: 1.3, Low: 1.1, Close: 1.3}, *v.Forming)
}

func TestControllerCompletedCandleMergesAndReseeds(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	h.history.set("BTCUSDT", oneMinute, &fetchResult{
		bars: []model.Bar{{Time: 60, Close: 1}},
		snap: &model.BootstrapSnapshot{Open: 1, High: 2, Low: 1, PeriodStart: 120},
	})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.history.set("BTCUSDT", oneMinute, &fetchResult{
		snap: &model.BootstrapSnapshot{Open: 3, High: 3, Low: 3, PeriodStart: 180},
	})
	h.stream.emit(model.SymbolDataMessage{
		Symbol:    "BTCUSDT",
		Timeframe: oneMinute,
		OHLC:      model.OHLC{Time: 120, Open: 1, High: 2, Low: 1, Close: 3},
	})

	v := h.ctrl.Snapshot()
	require.Equal(t, []model.Bar{{Time: 60, Close: 1}, {Time: 120, Open: 1, High: 2, Low: 1, Close: 3}}, v.Historical)

	require.Eventually(t, func() bool {
		f := h.ctrl.Snapshot().Forming
		return f != nil && f.Time == 180
	}, time.Second, time.Millisecond)
	require.Equal(t, 3.0, h.ctrl.Snapshot().Forming.Close)

	// a reseed with nothing recorded clears the forming bar
	h.history.set("BTCUSDT", oneMinute, &fetchResult{})
	h.stream.emit(model.SymbolDataMessage{
		Symbol:    "BTCUSDT",
		Timeframe: oneMinute,
		OHLC:      model.OHLC{Time: 180, Open: 3, High: 3, Low: 3, Close: 3},
	})
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Forming == nil }, time.Second, time.Millisecond)
}

func TestControllerIgnoresOtherTimeframes(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	h.history.set("BTCUSDT", oneMinute, &fetchResult{bars: []model.Bar{{Time: 60, Close: 1}}})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.stream.emit(model.SymbolDataMessage{
		Symbol:    "BTCUSDT",
		Timeframe: model.Timeframe{Size: 5, Unit: model.Minute},
		OHLC:      model.OHLC{Time: 300, Close: 9},
	})
	require.Len(t, h.ctrl.Snapshot().Historical, 1)
	require.Equal(t, 1, h.history.calls("BTCUSDT", oneMinute))
}

func TestControllerPublishNeverBlocks(t *testing.T) {
	history := newFakeHistory()
	stream := newFakeStream()
	clock := newFakeClock()
	ctrl := NewController(ControllerConfig{Symbol: "BTCUSDT", Timeframe: oneMinute, ViewBuffer: 1, Now: clock.Now}, history, stream, testLog)
	history.set("BTCUSDT", oneMinute, &fetchResult{bars: []model.Bar{{Time: 60, Close: 1}}})
	require.NoError(t, ctrl.Start(context.Background()))

	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		stream.emit(tick("BTCUSDT", float64(120+i), float64(i)))
	}

	v := <-ctrl.Views()
	require.Equal(t, ctrl.Snapshot().Revision, v.Revision)
	require.Equal(t, 19.0, v.Forming.Close)

	ctrl.Stop()
	_, ok := <-ctrl.Views()
	require.False(t, ok)
	require.Zero(t, stream.subscribers())

	stream.emit(tick("BTCUSDT", 200, 1))
	require.ErrorIs(t, ctrl.Switch(context.Background(), "BTCUSDT", oneMinute), ErrControllerStopped)
}

func TestControllerRebind(t *testing.T) {
	h := newHarness(t, "BTCUSDT", oneMinute)
	require.NoError(t, h.ctrl.Start(context.Background()))

	next := newFakeStream()
	h.ctrl.Rebind(next)
	require.Zero(t, h.stream.subscribers())
	require.Equal(t, 1, next.subscribers())
	require.Len(t, next.sent, 2)
}
