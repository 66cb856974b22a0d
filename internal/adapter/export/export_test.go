package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"candleflow/internal/domain/model"
)

type fakeHistory struct {
	bars []model.Bar
}

func (h fakeHistory) FetchHistorical(context.Context, string, model.Timeframe) ([]model.Bar, error) {
	return h.bars, nil
}

func (h fakeHistory) FetchBootstrap(context.Context, string, model.Timeframe, time.Time) (*model.BootstrapSnapshot, error) {
	return nil, nil
}

var minute = model.Timeframe{Size: 1, Unit: model.Minute}

// unsorted with a duplicate period: export must normalize
var raw = []model.Bar{
	{Time: 125, Open: 3, High: 3, Low: 3, Close: 3},
	{Time: 61, Open: 2, High: 2, Low: 2, Close: 2},
	{Time: 0, Open: 1, High: 1, Low: 1, Close: 1},
	{Time: 120, Open: 4, High: 4, Low: 4, Close: 4},
}

func TestNewSaver(t *testing.T) {
	require.IsType(t, ParquetSaver{}, NewSaver(" Parquet "))
	require.IsType(t, JSONSaver{}, NewSaver("json"))
	require.Nil(t, NewSaver("csv"))
	require.Panics(t, func() { MustSaver("xml") })
}

func TestSeriesParquet(t *testing.T) {
	dir := t.TempDir()
	path, n, err := Series(context.Background(), fakeHistory{raw}, ParquetSaver{}, dir, "BTCUSDT", minute)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, filepath.Join(dir, "BTCUSDT_1m.parquet"), path)

	rows, err := parquet.ReadFile[Row](path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []int64{0, 60, 120}, []int64{rows[0].Time, rows[1].Time, rows[2].Time})
	require.Equal(t, "1m", rows[0].Timeframe)
	require.Equal(t, "BTCUSDT", rows[2].Symbol)
}

func TestSeriesJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path, n, err := Series(context.Background(), fakeHistory{raw}, JSONSaver{}, dir, "ETHUSDT", minute)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []Row
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 3)
	require.Equal(t, int64(120), rows[2].Time)
}
