package model

// Bar is one OHLC period. Time is the floored period start in seconds.
type Bar struct {
	Time   int64   `json:"time" parquet:"time"`
	Open   float64 `json:"open" parquet:"open"`
	High   float64 `json:"high" parquet:"high"`
	Low    float64 `json:"low" parquet:"low"`
	Close  float64 `json:"close" parquet:"close"`
	Volume float64 `json:"volume" parquet:"volume"`
	VBuy   float64 `json:"vbuy" parquet:"vbuy"`
	VSell  float64 `json:"vsell" parquet:"vsell"`
}

// Trade is a single price observation on the base stream.
// Timestamp may be epoch seconds or epoch milliseconds.
type Trade struct {
	Timestamp float64
	Price     float64
}

// CompletedCandle is a finished bar pushed by the backend when a period closes.
type CompletedCandle struct {
	Time  int64
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// BootstrapSnapshot is a coarse aggregate of the still-open period.
// A nil Close means no trade has happened yet in the period.
type BootstrapSnapshot struct {
	Open        float64  `json:"open"`
	High        float64  `json:"high"`
	Low         float64  `json:"low"`
	Close       *float64 `json:"close"`
	PeriodStart int64    `json:"periodStart"`
}

// View is the immutable pair handed to the rendering boundary.
type View struct {
	Symbol     string    `json:"symbol"`
	Timeframe  Timeframe `json:"timeframe"`
	Historical []Bar     `json:"historical"`
	Forming    *Bar      `json:"forming,omitempty"`
	Settled    bool      `json:"settled"`
	Revision   uint64    `json:"revision"`
}

// Key identifies the chart the view belongs to.
func (v View) Key() string {
	return v.Timeframe.Key(v.Symbol)
}

// Clone deep-copies the view so the receiver can never alias controller state.
func (v View) Clone() View {
	out := v
	out.Historical = append([]Bar(nil), v.Historical...)
	if v.Forming != nil {
		f := *v.Forming
		out.Forming = &f
	}
	return out
}

// Float returns a pointer to f, for optional price fields.
func Float(f float64) *float64 {
	return &f
}
