package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"candleflow/internal/domain/candle"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

var (
	ErrFetchFailure      = errors.New("fetch failed")
	ErrControllerStopped = errors.New("controller stopped")
)

type ControllerConfig struct {
	Symbol       string
	Timeframe    model.Timeframe
	Throttle     time.Duration
	FetchTimeout time.Duration
	ViewBuffer   int
	// Now drives the tick throttle. Defaults to time.Now.
	Now func() time.Time
}

// epoch guards async fetch results against a newer switch.
type epoch struct {
	key       string
	completed bool
}

// Controller reconciles live stream messages with fetched history for one
// chart and publishes consistent views of it.
type Controller struct {
	history port.HistoryPort
	log     *slog.Logger
	now     func() time.Time

	throttle     time.Duration
	fetchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	stream     port.StreamPort
	unsub      func()
	symbol     string
	tf         model.Timeframe
	agg        candle.Aggregator
	epoch      epoch
	historical []model.Bar
	forming    *model.Bar
	lastUpdate time.Time
	revision   uint64
	views      chan model.View
	stopped    bool
}

func NewController(cfg ControllerConfig, history port.HistoryPort, stream port.StreamPort, log *slog.Logger) *Controller {
	if cfg.Throttle <= 0 {
		cfg.Throttle = 100 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.ViewBuffer <= 0 {
		cfg.ViewBuffer = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		history:      history,
		stream:       stream,
		log:          log.With("component", "controller", "symbol", cfg.Symbol),
		now:          cfg.Now,
		throttle:     cfg.Throttle,
		fetchTimeout: cfg.FetchTimeout,
		ctx:          ctx,
		cancel:       cancel,
		symbol:       cfg.Symbol,
		tf:           cfg.Timeframe,
		agg:          candle.ForPeriod(1),
		views:        make(chan model.View, cfg.ViewBuffer),
	}
}

// Start subscribes to the stream and loads the configured chart.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	symbol, tf := c.symbol, c.tf
	c.unsub = c.stream.Subscribe(c.HandleMessage)
	c.mu.Unlock()

	return c.Switch(ctx, symbol, tf)
}

// Rebind moves the controller onto another stream and re-sends the
// subscriptions of the active chart.
func (c *Controller) Rebind(stream port.StreamPort) {
	c.mu.Lock()
	if c.unsub != nil {
		c.unsub()
	}
	c.stream = stream
	c.unsub = stream.Subscribe(c.HandleMessage)
	symbol, tf := c.symbol, c.tf
	c.mu.Unlock()

	c.subscribe(stream, symbol, tf)
}

// Switch starts a new epoch for symbol and tf. A historical fetch failure is
// returned; a bootstrap failure only leaves the forming bar empty.
func (c *Controller) Switch(ctx context.Context, symbol string, tf model.Timeframe) error {
	agg, err := candle.New(tf)
	if err != nil {
		return err
	}
	key := tf.Key(symbol)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrControllerStopped
	}
	c.symbol = symbol
	c.tf = tf
	c.agg = agg
	c.epoch = epoch{key: key}
	c.historical = nil
	c.forming = nil
	c.lastUpdate = time.Time{}
	stream := c.stream
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info("switching chart", "key", key)
	c.subscribe(stream, symbol, tf)

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var (
		bars    []model.Bar
		snap    *model.BootstrapSnapshot
		bootErr error
	)
	now := c.now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := c.history.FetchHistorical(gctx, symbol, tf)
		if err != nil {
			return fmt.Errorf("%w: historical %s: %v", ErrFetchFailure, key, err)
		}
		bars = b
		return nil
	})
	g.Go(func() error {
		snap, bootErr = c.history.FetchBootstrap(ctx, symbol, tf, now)
		return nil
	})
	histErr := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch.key != key || c.stopped {
		c.log.Debug("dropping superseded fetch results", "key", key)
		return nil
	}
	// the bootstrap lands for the current key even without history, so base
	// ticks are never gated for the rest of the epoch
	if histErr != nil {
		c.log.Error("historical fetch failed", "key", key, "error", histErr)
	} else {
		c.historical = agg.NormalizeHistorical(bars)
	}
	c.applyBootstrapLocked(key, snap, bootErr)
	c.epoch.completed = true
	c.publishLocked()
	return histErr
}

func (c *Controller) applyBootstrapLocked(key string, snap *model.BootstrapSnapshot, err error) {
	switch {
	case err != nil:
		c.log.Warn("bootstrap fetch failed, no forming bar", "key", key, "error", err)
		c.forming = nil
	case snap == nil:
		c.forming = nil
	default:
		bar := c.agg.BootstrapForming(*snap, candle.LastClose(c.historical))
		c.forming = &bar
	}
}

func (c *Controller) subscribe(stream port.StreamPort, symbol string, tf model.Timeframe) {
	reqs := []model.SubscribeRequest{{Symbol: symbol, Timeframe: model.BaseTimeframe}}
	if !tf.IsBase() {
		reqs = append(reqs, model.SubscribeRequest{Symbol: symbol, Timeframe: tf})
	}
	for _, req := range reqs {
		if err := stream.Send(req); err != nil {
			c.log.Warn("subscribe request failed", "timeframe", req.Timeframe.String(), "error", err)
		}
	}
}

// HandleMessage classifies one stream frame. It never blocks on I/O.
func (c *Controller) HandleMessage(msg model.SymbolDataMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || msg.Symbol != c.symbol {
		return
	}
	now := c.now()

	switch {
	case msg.Timeframe == c.tf && !msg.IsTick():
		c.applyCompletedLocked(msg.Completed(), now)
	case msg.IsTick():
		c.applyTickLocked(msg.Trade(), now)
	}
}

func (c *Controller) applyCompletedLocked(cc model.CompletedCandle, now time.Time) {
	c.historical = c.agg.MergeCompleted(c.historical, cc)
	c.lastUpdate = now
	c.publishLocked()

	key, symbol, tf, agg := c.epoch.key, c.symbol, c.tf, c.agg
	lastClose := candle.LastClose(c.historical)
	c.wg.Add(1)
	go c.reseed(key, symbol, tf, agg, lastClose)
}

// reseed replaces the forming bar for the period that opened after a
// completed candle.
func (c *Controller) reseed(key, symbol string, tf model.Timeframe, agg candle.Aggregator, lastClose *float64) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()
	snap, err := c.history.FetchBootstrap(ctx, symbol, tf, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.epoch.key != key {
		return
	}
	switch {
	case err != nil:
		c.log.Warn("reseed fetch failed", "key", key, "error", err)
		c.forming = nil
	case snap == nil:
		c.forming = nil
	default:
		bar := agg.BootstrapForming(*snap, lastClose)
		c.forming = &bar
	}
	c.publishLocked()
}

func (c *Controller) applyTickLocked(trade model.Trade, now time.Time) {
	if !c.lastUpdate.IsZero() && now.Sub(c.lastUpdate) < c.throttle {
		return
	}
	// no forming bar until the bootstrap of this epoch has landed
	if !c.epoch.completed {
		return
	}

	var next model.Bar
	switch {
	case c.forming != nil && c.agg.ShouldPromote(c.forming, trade.Timestamp):
		promoted := *c.forming
		c.historical = c.agg.MergeCompleted(c.historical, model.CompletedCandle{
			Time:  promoted.Time,
			Open:  promoted.Open,
			High:  promoted.High,
			Low:   promoted.Low,
			Close: promoted.Close,
		})
		next = c.agg.UpdateForming(nil, trade, &promoted.Close)
	case c.forming == nil:
		next = c.agg.UpdateForming(nil, trade, candle.LastClose(c.historical))
	default:
		next = c.agg.UpdateForming(c.forming, trade, candle.LastClose(c.historical))
	}
	c.forming = &next
	c.lastUpdate = now
	c.publishLocked()
}

func (c *Controller) viewLocked() model.View {
	v := model.View{
		Symbol:     c.symbol,
		Timeframe:  c.tf,
		Historical: c.historical,
		Forming:    c.forming,
		Settled:    c.epoch.completed,
		Revision:   c.revision,
	}
	return v.Clone()
}

// publishLocked never blocks: when the consumer lags the oldest pending view
// is discarded in favour of the new one.
func (c *Controller) publishLocked() {
	if c.stopped {
		return
	}
	c.revision++
	v := c.viewLocked()
	select {
	case c.views <- v:
		return
	default:
	}
	select {
	case <-c.views:
	default:
	}
	select {
	case c.views <- v:
	default:
		c.log.Warn("view dropped", "revision", v.Revision)
	}
}

func (c *Controller) Snapshot() model.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) Views() <-chan model.View {
	return c.views
}

func (c *Controller) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch.key
}

// Stop detaches from the stream, waits for pending reseeds and closes Views.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	close(c.views)
}
