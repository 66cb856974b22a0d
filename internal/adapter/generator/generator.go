package generator

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"candleflow/internal/domain/candle"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

type Options struct {
	Name     string
	Symbols  []string
	Interval time.Duration
	Seed     int64
	// StartPrice seeds the random walk of every symbol.
	StartPrice float64
}

type series struct {
	agg     candle.Aggregator
	forming *model.Bar
}

// Generator is the test-mode stream: a random walk per subscribed symbol that
// emits 1-second ticks and completed candles for every subscribed timeframe.
// Everything it emits is also written to the store so history and bootstrap
// fetches agree with the stream.
type Generator struct {
	name     string
	interval time.Duration
	store    port.HistoryWriter
	log      *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	start   float64
	prices  map[string]float64
	series  map[string]map[model.Timeframe]*series
	subs    map[uint64]func(model.SymbolDataMessage)
	nextSub uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewGenerator(opts Options, store port.HistoryWriter, log *slog.Logger) *Generator {
	if opts.Name == "" {
		opts.Name = "test-generator"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = 100
	}
	g := &Generator{
		name:     opts.Name,
		interval: opts.Interval,
		store:    store,
		log:      log.With("component", "generator"),
		rng:      rand.New(rand.NewSource(opts.Seed)),
		start:    opts.StartPrice,
		prices:   make(map[string]float64),
		series:   make(map[string]map[model.Timeframe]*series),
		subs:     make(map[uint64]func(model.SymbolDataMessage)),
	}
	for _, s := range opts.Symbols {
		g.track(s, model.BaseTimeframe)
	}
	return g
}

func (g *Generator) Name() string { return g.name }

// track must be called with mu held or before the generator is shared.
func (g *Generator) track(symbol string, tf model.Timeframe) {
	if _, ok := g.prices[symbol]; !ok {
		g.prices[symbol] = g.start * (0.5 + g.rng.Float64())
		g.series[symbol] = make(map[model.Timeframe]*series)
	}
	if tf.IsBase() {
		return
	}
	if _, ok := g.series[symbol][tf]; !ok {
		g.series[symbol][tf] = &series{agg: candle.ForPeriod(tf.MustSeconds())}
	}
}

func (g *Generator) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go g.loop(ctx)
	g.log.Info("generator started", "interval", g.interval)
	return nil
}

func (g *Generator) loop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.Step(ctx, now)
		}
	}
}

func (g *Generator) Send(req model.SubscribeRequest) error {
	if err := req.Timeframe.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	g.track(req.Symbol, req.Timeframe)
	g.mu.Unlock()
	return nil
}

func (g *Generator) Subscribe(fn func(model.SymbolDataMessage)) func() {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}

func (g *Generator) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

func (g *Generator) Disconnect() error {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		g.wg.Wait()
		g.log.Info("generator stopped")
	}
	return nil
}

type write struct {
	symbol string
	tf     model.Timeframe
	bar    model.Bar
}

// Step advances every symbol by one trade at now.
func (g *Generator) Step(ctx context.Context, now time.Time) {
	ts := now.Unix()

	g.mu.Lock()
	symbols := make([]string, 0, len(g.prices))
	for s := range g.prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var (
		msgs   []model.SymbolDataMessage
		writes []write
	)
	for _, symbol := range symbols {
		price := g.walk(symbol)
		trade := model.Trade{Timestamp: float64(ts), Price: price}

		writes = append(writes, write{symbol, model.BaseTimeframe, model.Bar{Time: ts, Open: price, High: price, Low: price, Close: price}})
		tick := model.SymbolDataMessage{
			Symbol:    symbol,
			Timeframe: model.BaseTimeframe,
			OHLC:      model.OHLC{Time: float64(ts), Open: price, High: price, Low: price, Close: price},
		}

		for tf, s := range g.series[symbol] {
			if s.forming != nil && s.agg.Period() > 0 && model.Floor(ts, s.agg.Period()) != s.forming.Time {
				done := *s.forming
				writes = append(writes, write{symbol, tf, done})
				msgs = append(msgs, model.SymbolDataMessage{
					Symbol:    symbol,
					Timeframe: tf,
					OHLC:      model.OHLC{Time: float64(done.Time), Open: done.Open, High: done.High, Low: done.Low, Close: done.Close},
				})
			}
			var prevClose *float64
			if s.forming != nil {
				c := s.forming.Close
				prevClose = &c
			}
			next := s.agg.UpdateForming(s.forming, trade, prevClose)
			s.forming = &next
		}
		msgs = append(msgs, tick)
	}

	subs := make([]func(model.SymbolDataMessage), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	g.persist(ctx, writes)
	for _, msg := range msgs {
		for _, fn := range subs {
			fn(msg)
		}
	}
}

func (g *Generator) walk(symbol string) float64 {
	p := g.prices[symbol] * (1 + (g.rng.Float64()-0.5)*0.004)
	g.prices[symbol] = p
	return p
}

func (g *Generator) persist(ctx context.Context, writes []write) {
	if g.store == nil {
		return
	}
	for _, w := range writes {
		if err := g.store.SaveBars(ctx, w.symbol, w.tf, []model.Bar{w.bar}); err != nil {
			g.log.Error("failed to persist generated bar", "symbol", w.symbol, "timeframe", w.tf.String(), "error", err)
		}
	}
}

// Backfill writes a random-walk history for symbol between from and to: one
// 1-second bar per second plus the folded bars of every tf.
func (g *Generator) Backfill(ctx context.Context, symbol string, tfs []model.Timeframe, from, to time.Time) error {
	g.mu.Lock()
	g.track(symbol, model.BaseTimeframe)
	var base []model.Bar
	for ts := from.Unix(); ts < to.Unix(); ts++ {
		open := g.prices[symbol]
		p := g.walk(symbol)
		base = append(base, model.Bar{Time: ts, Open: open, High: max(open, p), Low: min(open, p), Close: p})
	}
	g.mu.Unlock()

	if g.store == nil || len(base) == 0 {
		return nil
	}
	if err := g.store.SaveBars(ctx, symbol, model.BaseTimeframe, base); err != nil {
		return err
	}
	for _, tf := range tfs {
		if tf.IsBase() {
			continue
		}
		secs, err := tf.Seconds()
		if err != nil {
			return err
		}
		folded := candle.ForPeriod(secs).Fold(base)
		// the last period is still open at `to`
		if n := len(folded); n > 0 && model.Floor(to.Unix(), secs) == folded[n-1].Time {
			folded = folded[:n-1]
		}
		if err := g.store.SaveBars(ctx, symbol, tf, folded); err != nil {
			return err
		}
	}
	g.log.Info("backfill complete", "symbol", symbol, "seconds", len(base), "timeframes", len(tfs))
	return nil
}
