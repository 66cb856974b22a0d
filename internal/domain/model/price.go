package model

import "time"

// LatestPrice is the last traded price seen for a symbol.
type LatestPrice struct {
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestFromView derives the last price from the freshest bar of a view.
func LatestFromView(v View, source string, at time.Time) (LatestPrice, bool) {
	var bar *Bar
	switch {
	case v.Forming != nil:
		bar = v.Forming
	case len(v.Historical) > 0:
		bar = &v.Historical[len(v.Historical)-1]
	default:
		return LatestPrice{}, false
	}
	return LatestPrice{Symbol: v.Symbol, Source: source, Price: bar.Close, Timestamp: at}, true
}
