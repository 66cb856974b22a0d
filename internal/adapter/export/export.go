package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"candleflow/internal/domain/candle"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

// Series writes the normalized history of (symbol, tf) into dir and returns
// the file path and row count.
func Series(ctx context.Context, history port.HistoryPort, saver Saver, dir, symbol string, tf model.Timeframe) (string, int, error) {
	agg, err := candle.New(tf)
	if err != nil {
		return "", 0, err
	}
	bars, err := history.FetchHistorical(ctx, symbol, tf)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch %s: %w", tf.Key(symbol), err)
	}
	bars = agg.NormalizeHistorical(bars)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", symbol, tf.String(), saver.Extension()))
	if err := saver.Save(Rows(symbol, tf, bars), path); err != nil {
		return "", 0, fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, len(bars), nil
}
