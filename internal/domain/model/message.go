package model

// SubscribeRequest asks the stream server for updates on one symbol and timeframe.
type SubscribeRequest struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

// OHLC is the bar payload of a stream frame. Time is kept raw because
// producers send either epoch seconds or epoch milliseconds.
type OHLC struct {
	Time  float64 `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// SymbolDataMessage is a server frame. A base timeframe marks a raw trade tick,
// anything else is a completed bar notification.
type SymbolDataMessage struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OHLC      OHLC      `json:"ohlc"`
}

func (m SymbolDataMessage) IsTick() bool {
	return m.Timeframe.IsBase()
}

// Trade reads a tick frame: ohlc.time is the timestamp, ohlc.close the price.
func (m SymbolDataMessage) Trade() Trade {
	return Trade{Timestamp: m.OHLC.Time, Price: m.OHLC.Close}
}

func (m SymbolDataMessage) Completed() CompletedCandle {
	return CompletedCandle{
		Time:  NormalizeTimestamp(m.OHLC.Time),
		Open:  m.OHLC.Open,
		High:  m.OHLC.High,
		Low:   m.OHLC.Low,
		Close: m.OHLC.Close,
	}
}
