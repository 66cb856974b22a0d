package config

import "time"

type ChartConfig struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

type Config struct {
	// Mode: live (websocket) или test (синтетический поток).
	Mode string `yaml:"mode"`

	Server struct {
		Port               int           `yaml:"port"`
		ReadTimeoutStr     string        `yaml:"read_timeout"`
		WriteTimeoutStr    string        `yaml:"write_timeout"`
		ShutdownTimeoutStr string        `yaml:"shutdown_timeout"`
		ReadTimeout        time.Duration `yaml:"-"`
		WriteTimeout       time.Duration `yaml:"-"`
		ShutdownTimeout    time.Duration `yaml:"-"`
	} `yaml:"server"`

	Storage struct {
		// Driver: postgres или sqlite.
		Driver       string `yaml:"driver"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"storage"`

	PostgreSQL struct {
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		User               string        `yaml:"user"`
		Password           string        `yaml:"password"`
		Database           string        `yaml:"database"`
		SSLMode            string        `yaml:"sslmode"`
		MaxOpenConns       int           `yaml:"max_open_conns"`
		MaxIdleConns       int           `yaml:"max_idle_conns"`
		ConnMaxLifetimeStr string        `yaml:"conn_max_lifetime"`
		ConnMaxLifetime    time.Duration `yaml:"-"`
	} `yaml:"postgresql"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		TTLStr       string        `yaml:"ttl"`
		TTL          time.Duration `yaml:"-"`
	} `yaml:"redis"`

	Stream struct {
		URL                  string        `yaml:"url"`
		ConnectionTimeoutStr string        `yaml:"connection_timeout"`
		ReconnectDelayStr    string        `yaml:"reconnect_delay"`
		WriteTimeoutStr      string        `yaml:"write_timeout"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		ConnectionTimeout    time.Duration `yaml:"-"`
		ReconnectDelay       time.Duration `yaml:"-"`
		WriteTimeout         time.Duration `yaml:"-"`
	} `yaml:"stream"`

	TestGenerator struct {
		IntervalStr string        `yaml:"interval"`
		BackfillStr string        `yaml:"backfill"`
		Seed        int64         `yaml:"seed"`
		StartPrice  float64       `yaml:"start_price"`
		Interval    time.Duration `yaml:"-"`
		Backfill    time.Duration `yaml:"-"`
	} `yaml:"test_generator"`

	Controller struct {
		ThrottleStr     string        `yaml:"throttle"`
		FetchTimeoutStr string        `yaml:"fetch_timeout"`
		ViewBuffer      int           `yaml:"view_buffer"`
		Throttle        time.Duration `yaml:"-"`
		FetchTimeout    time.Duration `yaml:"-"`
	} `yaml:"controller"`

	Charts []ChartConfig `yaml:"charts"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Archive struct {
		IntervalStr string        `yaml:"interval"`
		Interval    time.Duration `yaml:"-"`
	} `yaml:"archive"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}
