package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"candleflow/internal/domain/candle"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

var ErrChartNotFound = errors.New("chart not found")

// Chart is the slice of the controller the read path needs.
type Chart interface {
	Snapshot() model.View
	Switch(ctx context.Context, symbol string, tf model.Timeframe) error
}

type ChartSummary struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Settled   bool     `json:"settled"`
	Bars      int      `json:"bars"`
	Forming   bool     `json:"forming"`
	LastClose *float64 `json:"last_close,omitempty"`
	Revision  uint64   `json:"revision"`
}

type ChartUseCase struct {
	charts map[string]Chart
	cache  port.CachePort
	source string
	now    func() time.Time
}

// NewChartUseCase indexes live charts by symbol. cache may be nil.
func NewChartUseCase(charts map[string]Chart, cache port.CachePort, source string) *ChartUseCase {
	return &ChartUseCase{
		charts: charts,
		cache:  cache,
		source: source,
		now:    time.Now,
	}
}

func (uc *ChartUseCase) List() []ChartSummary {
	out := make([]ChartSummary, 0, len(uc.charts))
	for _, ch := range uc.charts {
		v := ch.Snapshot()
		last := candle.LastClose(v.Historical)
		if v.Forming != nil {
			last = model.Float(v.Forming.Close)
		}
		out = append(out, ChartSummary{
			Symbol:    v.Symbol,
			Timeframe: v.Timeframe.String(),
			Settled:   v.Settled,
			Bars:      len(v.Historical),
			Forming:   v.Forming != nil,
			LastClose: last,
			Revision:  v.Revision,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetView returns the live view of symbol. tf narrows the lookup: when the
// live chart shows another timeframe, or symbol is not live here, the cached
// view for (symbol, tf) is used instead.
func (uc *ChartUseCase) GetView(ctx context.Context, symbol string, tf *model.Timeframe) (*model.View, error) {
	if ch, ok := uc.charts[symbol]; ok {
		v := ch.Snapshot()
		if tf == nil || *tf == v.Timeframe {
			return &v, nil
		}
	}
	if tf == nil || uc.cache == nil {
		return nil, fmt.Errorf("%w: %s", ErrChartNotFound, symbol)
	}

	// Сначала проверяем кеш
	v, err := uc.cache.GetView(ctx, symbol, *tf)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrChartNotFound, tf.Key(symbol))
	}
	return v, nil
}

func (uc *ChartUseCase) GetLatestPrice(ctx context.Context, symbol string) (*model.LatestPrice, error) {
	if ch, ok := uc.charts[symbol]; ok {
		if p, ok := model.LatestFromView(ch.Snapshot(), uc.source, uc.now()); ok {
			return &p, nil
		}
	}
	if uc.cache == nil {
		return nil, fmt.Errorf("%w: %s", ErrChartNotFound, symbol)
	}
	p, err := uc.cache.GetLatestPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrChartNotFound, symbol)
	}
	return p, nil
}

// SwitchTimeframe moves the live chart of symbol onto tf.
func (uc *ChartUseCase) SwitchTimeframe(ctx context.Context, symbol string, tf model.Timeframe) error {
	if err := tf.Validate(); err != nil {
		return err
	}
	ch, ok := uc.charts[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChartNotFound, symbol)
	}
	return ch.Switch(ctx, symbol, tf)
}
