package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"candleflow/internal/domain/model"
)

// Default возвращает конфигурацию для локального запуска: sqlite, без Redis,
// тестовый поток.
func Default() *Config {
	var cfg Config
	cfg.Mode = model.TestMode.String()
	cfg.Server.Port = 8080
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.HistoryLimit = 1000
	cfg.SQLite.Path = "candleflow.db"
	cfg.PostgreSQL.Host = "localhost"
	cfg.PostgreSQL.Port = 5432
	cfg.PostgreSQL.SSLMode = "disable"
	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = 6379
	cfg.Charts = []ChartConfig{{Symbol: "BTCUSDT", Timeframe: "1m"}}
	cfg.Workers.Count = 4
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	// пустые строки длительностей получат значения по умолчанию в resolve
	_ = cfg.resolve()
	return &cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Применяем переменные окружения (переопределяют значения из файла)
	applyEnvOverrides(cfg)

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve парсит строковые длительности; пустая строка даёт значение по умолчанию.
func (c *Config) resolve() error {
	fields := []struct {
		name string
		str  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"server.read_timeout", c.Server.ReadTimeoutStr, 10 * time.Second, &c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeoutStr, 10 * time.Second, &c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeoutStr, 30 * time.Second, &c.Server.ShutdownTimeout},
		{"postgresql.conn_max_lifetime", c.PostgreSQL.ConnMaxLifetimeStr, 5 * time.Minute, &c.PostgreSQL.ConnMaxLifetime},
		{"redis.ttl", c.Redis.TTLStr, 10 * time.Minute, &c.Redis.TTL},
		{"stream.connection_timeout", c.Stream.ConnectionTimeoutStr, 10 * time.Second, &c.Stream.ConnectionTimeout},
		{"stream.reconnect_delay", c.Stream.ReconnectDelayStr, time.Second, &c.Stream.ReconnectDelay},
		{"stream.write_timeout", c.Stream.WriteTimeoutStr, 5 * time.Second, &c.Stream.WriteTimeout},
		{"test_generator.interval", c.TestGenerator.IntervalStr, time.Second, &c.TestGenerator.Interval},
		{"test_generator.backfill", c.TestGenerator.BackfillStr, time.Hour, &c.TestGenerator.Backfill},
		{"controller.throttle", c.Controller.ThrottleStr, 100 * time.Millisecond, &c.Controller.Throttle},
		{"controller.fetch_timeout", c.Controller.FetchTimeoutStr, 10 * time.Second, &c.Controller.FetchTimeout},
		{"archive.interval", c.Archive.IntervalStr, time.Minute, &c.Archive.Interval},
	}
	for _, f := range fields {
		if f.str == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.str)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.str, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) Validate() error {
	if _, ok := model.ParseDataMode(c.Mode); !ok {
		return fmt.Errorf("invalid mode %q (use live or test)", c.Mode)
	}
	if c.Mode == model.LiveMode.String() && c.Stream.URL == "" {
		return errors.New("stream.url is required in live mode")
	}
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid storage.driver %q (use postgres or sqlite)", c.Storage.Driver)
	}
	if len(c.Charts) == 0 {
		return errors.New("at least one chart must be configured")
	}
	seen := make(map[string]bool, len(c.Charts))
	for i, ch := range c.Charts {
		if ch.Symbol == "" {
			return fmt.Errorf("charts[%d]: symbol is required", i)
		}
		// один контроллер на символ
		if seen[ch.Symbol] {
			return fmt.Errorf("charts[%d]: duplicate symbol %s", i, ch.Symbol)
		}
		seen[ch.Symbol] = true
		if _, err := model.ParseTimeframe(ch.Timeframe); err != nil {
			return fmt.Errorf("charts[%d]: %w", i, err)
		}
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	return nil
}

// Symbols возвращает символы графиков в порядке конфигурации.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Charts))
	for _, ch := range c.Charts {
		out = append(out, ch.Symbol)
	}
	return out
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CANDLEFLOW_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}

	// PostgreSQL
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.PostgreSQL.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.PostgreSQL.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.PostgreSQL.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.PostgreSQL.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.PostgreSQL.Database = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Stream
	if v := os.Getenv("STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}

	// Server
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.User,
		c.PostgreSQL.Password, c.PostgreSQL.Database, c.PostgreSQL.SSLMode,
	)
}

// StorageDSN выбирает DSN по драйверу.
func (c *Config) StorageDSN() string {
	if c.Storage.Driver == "postgres" {
		return c.PostgresDSN()
	}
	return c.SQLite.Path
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
