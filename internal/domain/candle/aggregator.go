// Package candle holds the pure bar math shared by the controller, the
// synthetic feed and the store. Nothing here mutates its inputs.
package candle

import (
	"math"
	"sort"

	"candleflow/internal/domain/model"
)

// Aggregator is bound to one period length. Build a new one when the
// active timeframe changes.
type Aggregator struct {
	period int64
}

func New(tf model.Timeframe) (Aggregator, error) {
	if err := tf.Validate(); err != nil {
		return Aggregator{}, err
	}
	return Aggregator{period: tf.MustSeconds()}, nil
}

// ForPeriod builds an aggregator from a raw period in seconds.
func ForPeriod(seconds int64) Aggregator {
	if seconds <= 0 {
		seconds = 1
	}
	return Aggregator{period: seconds}
}

func (a Aggregator) Period() int64 {
	return a.period
}

func (a Aggregator) floor(ts int64) int64 {
	return model.Floor(ts, a.period)
}

// NormalizeHistorical floors every bar to its period, keeps the bar with the
// latest original time when two collide, and sorts ascending.
func (a Aggregator) NormalizeHistorical(bars []model.Bar) []model.Bar {
	type pick struct {
		orig int64
		bar  model.Bar
	}
	byTime := make(map[int64]pick, len(bars))
	for _, b := range bars {
		t := a.floor(b.Time)
		if prev, ok := byTime[t]; ok && prev.orig >= b.Time {
			continue
		}
		nb := b
		nb.Time = t
		byTime[t] = pick{orig: b.Time, bar: nb}
	}

	out := make([]model.Bar, 0, len(byTime))
	for _, p := range byTime {
		out = append(out, p.bar)
	}
	sortBars(out)
	return out
}

// MergeCompleted replaces or inserts the candle's period in series.
func (a Aggregator) MergeCompleted(series []model.Bar, c model.CompletedCandle) []model.Bar {
	bar := model.Bar{
		Time:  a.floor(c.Time),
		Open:  c.Open,
		High:  c.High,
		Low:   c.Low,
		Close: c.Close,
	}

	out := make([]model.Bar, 0, len(series)+1)
	replaced := false
	for _, b := range series {
		if b.Time == bar.Time {
			if !replaced {
				out = append(out, bar)
				replaced = true
			}
			continue
		}
		out = append(out, b)
	}
	if !replaced {
		out = append(out, bar)
	}
	sortBars(out)
	return out
}

// UpdateForming folds a trade into the forming bar. A trade from a new period
// rotates: the fresh bar opens at lastClose when known so there is no gap
// between the previous close and the new open.
func (a Aggregator) UpdateForming(current *model.Bar, trade model.Trade, lastClose *float64) model.Bar {
	barTime := a.floor(model.NormalizeTimestamp(trade.Timestamp))

	if current != nil && current.Time == barTime {
		next := *current
		next.High = math.Max(current.High, trade.Price)
		next.Low = math.Min(current.Low, trade.Price)
		next.Close = trade.Price
		return next
	}

	open := trade.Price
	if lastClose != nil {
		open = *lastClose
	}
	return model.Bar{
		Time:  barTime,
		Open:  open,
		High:  math.Max(open, trade.Price),
		Low:   math.Min(open, trade.Price),
		Close: trade.Price,
	}
}

// ShouldPromote reports whether the forming bar must be committed before
// applying a trade at rawTime. Only the 1-second aggregator ever promotes;
// coarser bars are committed by completed-candle messages.
func (a Aggregator) ShouldPromote(forming *model.Bar, rawTime float64) bool {
	if a.period != 1 || forming == nil {
		return false
	}
	return a.floor(model.NormalizeTimestamp(rawTime)) != forming.Time
}

// BootstrapForming seeds a forming bar from a backend snapshot. Close falls
// back to lastClose, then to the snapshot open.
func (a Aggregator) BootstrapForming(s model.BootstrapSnapshot, lastClose *float64) model.Bar {
	closePrice := s.Open
	switch {
	case s.Close != nil:
		closePrice = *s.Close
	case lastClose != nil:
		closePrice = *lastClose
	}
	return model.Bar{
		Time:  a.floor(s.PeriodStart),
		Open:  s.Open,
		High:  s.High,
		Low:   s.Low,
		Close: closePrice,
	}
}

// Fold aggregates finer bars into one bar per period of a. Input must be
// sorted ascending.
func (a Aggregator) Fold(bars []model.Bar) []model.Bar {
	var out []model.Bar
	for _, b := range bars {
		t := a.floor(b.Time)
		n := len(out)
		if n > 0 && out[n-1].Time == t {
			cur := &out[n-1]
			cur.High = math.Max(cur.High, b.High)
			cur.Low = math.Min(cur.Low, b.Low)
			cur.Close = b.Close
			cur.Volume += b.Volume
			cur.VBuy += b.VBuy
			cur.VSell += b.VSell
			continue
		}
		nb := b
		nb.Time = t
		out = append(out, nb)
	}
	return out
}

// LastClose is the close of the newest bar, or nil for an empty series.
func LastClose(series []model.Bar) *float64 {
	if len(series) == 0 {
		return nil
	}
	c := series[len(series)-1].Close
	return &c
}

func sortBars(bars []model.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Time < bars[j].Time
	})
}
