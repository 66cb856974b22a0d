package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"candleflow/internal/domain/model"
)

// Row is one exported bar, self-describing so files can be concatenated.
type Row struct {
	Symbol    string  `json:"symbol" parquet:"symbol,dict"`
	Timeframe string  `json:"timeframe" parquet:"timeframe,dict"`
	Time      int64   `json:"time" parquet:"time"`
	Open      float64 `json:"open" parquet:"open"`
	High      float64 `json:"high" parquet:"high"`
	Low       float64 `json:"low" parquet:"low"`
	Close     float64 `json:"close" parquet:"close"`
	Volume    float64 `json:"volume" parquet:"volume"`
}

func Rows(symbol string, tf model.Timeframe, bars []model.Bar) []Row {
	out := make([]Row, len(bars))
	label := tf.String()
	for i, b := range bars {
		out[i] = Row{
			Symbol:    symbol,
			Timeframe: label,
			Time:      b.Time,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return out
}

type Saver interface {
	Save(rows []Row, path string) error
	Extension() string
}

// NewSaver returns nil for an unsupported format.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "parquet":
		return ParquetSaver{}
	case "json":
		return JSONSaver{}
	default:
		return nil
	}
}

func MustSaver(format string) Saver {
	s := NewSaver(format)
	if s == nil {
		panic(fmt.Sprintf("export: unsupported format %q (use parquet or json)", format))
	}
	return s
}

type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(rows []Row, path string) error {
	return parquet.WriteFile(path, rows)
}

type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
