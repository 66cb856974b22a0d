package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"candleflow/internal/domain/candle"
	"candleflow/internal/domain/model"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// HistoryLimit caps FetchHistorical to the newest N bars.
	HistoryLimit int
}

// SQLStore keeps bars of every timeframe in one table keyed by
// (symbol, timeframe, period start).
type SQLStore struct {
	db     *sql.DB
	driver string
	limit  int
}

func NewSQLStore(opts Options) (*SQLStore, error) {
	switch opts.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.Driver == DriverSQLite {
		// one connection keeps an in-memory database alive and serialises writers
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 1000
	}
	return &SQLStore{db: db, driver: opts.Driver, limit: limit}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ohlc_bars (
		symbol VARCHAR(32) NOT NULL,
		tf_size INTEGER NOT NULL,
		tf_unit VARCHAR(16) NOT NULL,
		period_start BIGINT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		vbuy DOUBLE PRECISION NOT NULL DEFAULT 0,
		vsell DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, tf_size, tf_unit, period_start)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ohlc_bars_series ON ohlc_bars(symbol, tf_unit, tf_size, period_start)`,
}

func (s *SQLStore) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const barColumns = `period_start, open, high, low, close, volume, vbuy, vsell`

func (s *SQLStore) FetchHistorical(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	query := s.rebind(`
	SELECT ` + barColumns + ` FROM (
		SELECT ` + barColumns + ` FROM ohlc_bars
		WHERE symbol = ? AND tf_size = ? AND tf_unit = ?
		ORDER BY period_start DESC
		LIMIT ?
	) recent
	ORDER BY period_start ASC`)

	rows, err := s.db.QueryContext(ctx, query, symbol, tf.Size, string(tf.Unit), s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// FetchBootstrap folds the 1-second rows of the period containing now.
func (s *SQLStore) FetchBootstrap(ctx context.Context, symbol string, tf model.Timeframe, now time.Time) (*model.BootstrapSnapshot, error) {
	period, err := tf.Seconds()
	if err != nil {
		return nil, err
	}
	start := model.Floor(now.Unix(), period)

	query := s.rebind(`
	SELECT ` + barColumns + ` FROM ohlc_bars
	WHERE symbol = ? AND tf_size = 1 AND tf_unit = ?
		AND period_start >= ? AND period_start < ?
	ORDER BY period_start ASC`)

	rows, err := s.db.QueryContext(ctx, query, symbol, string(model.Second), start, start+period)
	if err != nil {
		return nil, fmt.Errorf("failed to query period rows: %w", err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, err
	}
	folded := candle.ForPeriod(period).Fold(bars)
	if len(folded) == 0 {
		return nil, nil
	}
	b := folded[0]
	return &model.BootstrapSnapshot{
		Open:        b.Open,
		High:        b.High,
		Low:         b.Low,
		Close:       model.Float(b.Close),
		PeriodStart: start,
	}, nil
}

func (s *SQLStore) SaveBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
	INSERT INTO ohlc_bars (symbol, tf_size, tf_unit, `+barColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, tf_size, tf_unit, period_start) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		vbuy = excluded.vbuy,
		vsell = excluded.vsell`))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, tf.Size, string(tf.Unit),
			b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.VBuy, b.VSell); err != nil {
			return fmt.Errorf("failed to upsert bar %d: %w", b.Time, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}
	return nil
}

// Series lists the (symbol, timeframe) pairs that have stored bars.
func (s *SQLStore) Series(ctx context.Context) ([]SeriesInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT symbol, tf_size, tf_unit, COUNT(*), MIN(period_start), MAX(period_start)
	FROM ohlc_bars
	GROUP BY symbol, tf_size, tf_unit
	ORDER BY symbol, tf_unit, tf_size`)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []SeriesInfo
	for rows.Next() {
		var si SeriesInfo
		var unit string
		if err := rows.Scan(&si.Symbol, &si.Timeframe.Size, &unit, &si.Bars, &si.First, &si.Last); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		si.Timeframe.Unit = model.Unit(unit)
		out = append(out, si)
	}
	return out, rows.Err()
}

type SeriesInfo struct {
	Symbol    string
	Timeframe model.Timeframe
	Bars      int
	First     int64
	Last      int64
}

func scanBars(rows *sql.Rows) ([]model.Bar, error) {
	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.VBuy, &b.VSell); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bars: %w", err)
	}
	return bars, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
