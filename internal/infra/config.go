package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"stock_bot/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BotConfig declares one strategy instance and its parameters.
type BotConfig struct {
	Name     string             `yaml:"name" validate:"required"`
	Strategy string             `yaml:"strategy" validate:"required"`
	Risk     float64            `yaml:"risk" validate:"omitempty,gt=0,lte=1"`
	Params   map[string]float64 `yaml:"params"`
}

// Config holds every setting of the application.
// LoadConfig applies defaults, then the YAML file, then STOCKBOT_* environment overrides.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		DataDir  string `yaml:"data_dir" validate:"required"`
		Timezone string `yaml:"timezone" validate:"required"`
	} `yaml:"app"`

	Tickers []string `yaml:"tickers" validate:"required,min=1,dive,required"`

	Universe struct {
		ScreenerURL string        `yaml:"screener_url"`
		Limit       int           `yaml:"limit" validate:"gte=0"`
		Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	} `yaml:"universe"`

	Stream struct {
		URL              string        `yaml:"url" validate:"required"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
		ReadTimeout      time.Duration `yaml:"read_timeout" validate:"gt=0"`
		PingInterval     time.Duration `yaml:"ping_interval" validate:"gt=0"`
		StallTimeout     time.Duration `yaml:"stall_timeout" validate:"gt=0"`
		MaxSession       time.Duration `yaml:"max_session" validate:"gt=0"`
		PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
		Backoff          struct {
			Clean    BackoffConfig `yaml:"clean"`
			Abnormal BackoffConfig `yaml:"abnormal"`
			Dial     BackoffConfig `yaml:"dial"`
		} `yaml:"backoff"`
	} `yaml:"stream"`

	Ingest struct {
		QueueCapacity int           `yaml:"queue_capacity" validate:"gt=0"`
		FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
		ReportEvery   int           `yaml:"report_every" validate:"gte=0"`
		Retain        []string      `yaml:"retain"`
	} `yaml:"ingest"`

	Window struct {
		InitialChunk int `yaml:"initial_chunk" validate:"gte=512"`
		Workers      int `yaml:"workers" validate:"gt=0"`
	} `yaml:"window"`

	Portfolio struct {
		DBPath       string          `yaml:"db_path" validate:"required"`
		LogDir       string          `yaml:"log_dir" validate:"required"`
		StartingCash decimal.Decimal `yaml:"starting_cash"`
	} `yaml:"portfolio"`

	Scheduler struct {
		Interval         time.Duration `yaml:"interval" validate:"gt=0"`
		OpenWait         time.Duration `yaml:"open_wait" validate:"gte=0"`
		NoBuyBeforeClose time.Duration `yaml:"no_buy_before_close" validate:"gte=0"`
		UniverseRefresh  time.Duration `yaml:"universe_refresh" validate:"gt=0"`
		MaxConcurrent    int           `yaml:"max_concurrent" validate:"gt=0"`
		MarketTimezone   string        `yaml:"market_timezone" validate:"required"`
		MarketOpen       string        `yaml:"market_open" validate:"required"`
		MarketClose      string        `yaml:"market_close" validate:"required"`
		IgnoreHours      bool          `yaml:"ignore_hours"`
	} `yaml:"scheduler"`

	Bots []BotConfig `yaml:"bots" validate:"dive"`

	Metrics struct {
		Addr           string        `yaml:"addr"`
		ReportInterval time.Duration `yaml:"report_interval" validate:"gte=0"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// BackoffConfig is one row of the reconnect policy table.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" validate:"gt=0"`
	Max        time.Duration `yaml:"max" validate:"gtefield=Initial"`
	Multiplier float64       `yaml:"multiplier" validate:"gte=1"`
}

// envOverrides lists the settings that may come from the environment.
type envOverrides struct {
	StreamURL string   `envconfig:"STREAM_URL"`
	DataDir   string   `envconfig:"DATA_DIR"`
	DBPath    string   `envconfig:"DB_PATH"`
	LogLevel  string   `envconfig:"LOG_LEVEL"`
	Metrics   string   `envconfig:"METRICS_ADDR"`
	Tickers   []string `envconfig:"TICKERS"`
	Screener  string   `envconfig:"SCREENER_URL"`
}

// DefaultConfig returns a configuration with every field set to its default.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "stock_bot"
	cfg.App.DataDir = "data"
	cfg.App.Timezone = "Local"

	cfg.Stream.HandshakeTimeout = 10 * time.Second
	cfg.Stream.ReadTimeout = 60 * time.Second
	cfg.Stream.PingInterval = 30 * time.Second
	cfg.Stream.StallTimeout = 5 * time.Second
	cfg.Stream.MaxSession = 15 * time.Minute
	cfg.Stream.PollInterval = time.Second
	cfg.Stream.Backoff.Clean = BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 1.5}
	cfg.Stream.Backoff.Abnormal = BackoffConfig{Initial: 5 * time.Second, Max: 60 * time.Second, Multiplier: 2}
	cfg.Stream.Backoff.Dial = BackoffConfig{Initial: 2 * time.Second, Max: 60 * time.Second, Multiplier: 2}

	cfg.Universe.Limit = 100
	cfg.Universe.Timeout = 10 * time.Second

	cfg.Ingest.QueueCapacity = 100_000
	cfg.Ingest.FlushInterval = time.Second
	cfg.Ingest.ReportEvery = 10
	cfg.Ingest.Retain = []string{"_date.txt"}

	cfg.Window.InitialChunk = 8 * 1024
	cfg.Window.Workers = 32

	cfg.Portfolio.DBPath = "data/portfolios.db"
	cfg.Portfolio.LogDir = "data/logs"
	cfg.Portfolio.StartingCash = decimal.NewFromInt(100_000)

	cfg.Scheduler.Interval = time.Minute
	cfg.Scheduler.OpenWait = 20 * time.Minute
	cfg.Scheduler.NoBuyBeforeClose = 10 * time.Minute
	cfg.Scheduler.UniverseRefresh = 15 * time.Minute
	cfg.Scheduler.MaxConcurrent = 20
	cfg.Scheduler.MarketTimezone = "America/New_York"
	cfg.Scheduler.MarketOpen = "09:30"
	cfg.Scheduler.MarketClose = "16:00"

	cfg.Metrics.ReportInterval = time.Minute

	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/app.log"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	return &cfg
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults, applies env overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &domain.ConfigError{Field: verrs[0].Namespace(), Err: verrs[0]}
		}
		return err
	}

	if !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		return &domain.ConfigError{Field: "stream.url", Err: fmt.Errorf("invalid WS URL: %s", c.Stream.URL)}
	}
	if u := c.Universe.ScreenerURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return &domain.ConfigError{Field: "universe.screener_url", Err: fmt.Errorf("invalid HTTP URL: %s", u)}
	}
	if _, err := c.Location(); err != nil {
		return &domain.ConfigError{Field: "app.timezone", Err: err}
	}
	session, err := c.MarketSession()
	if err != nil {
		return &domain.ConfigError{Field: "scheduler", Err: err}
	}
	if session.Open >= session.Close {
		return &domain.ConfigError{Field: "scheduler.market_open", Err: errors.New("market must open before it closes")}
	}
	if c.Portfolio.StartingCash.IsNegative() {
		return &domain.ConfigError{Field: "portfolio.starting_cash", Err: errors.New("must not be negative")}
	}

	seen := make(map[string]bool, len(c.Bots))
	for _, b := range c.Bots {
		if seen[b.Name] {
			return &domain.ConfigError{Field: "bots", Err: fmt.Errorf("duplicate bot name %q", b.Name)}
		}
		seen[b.Name] = true
	}

	return nil
}

// Location resolves app.timezone; append log rows are stamped in this zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.App.Timezone)
}

// MarketSession resolves the scheduler's trading hours.
func (c *Config) MarketSession() (domain.MarketSession, error) {
	loc, err := time.LoadLocation(c.Scheduler.MarketTimezone)
	if err != nil {
		return domain.MarketSession{}, err
	}
	open, err := parseClock(c.Scheduler.MarketOpen)
	if err != nil {
		return domain.MarketSession{}, err
	}
	closing, err := parseClock(c.Scheduler.MarketClose)
	if err != nil {
		return domain.MarketSession{}, err
	}
	return domain.MarketSession{Location: loc, Open: open, Close: closing}, nil
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// overrideWithEnv replaces settings with STOCKBOT_* environment variables when present.
func overrideWithEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("STOCKBOT", &env); err != nil {
		return &domain.ConfigError{Field: "env", Err: err}
	}
	if env.StreamURL != "" {
		cfg.Stream.URL = env.StreamURL
	}
	if env.DataDir != "" {
		cfg.App.DataDir = env.DataDir
	}
	if env.DBPath != "" {
		cfg.Portfolio.DBPath = env.DBPath
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	if env.Metrics != "" {
		cfg.Metrics.Addr = env.Metrics
	}
	if env.Screener != "" {
		cfg.Universe.ScreenerURL = env.Screener
	}
	if len(env.Tickers) > 0 {
		cfg.Tickers = env.Tickers
	}
	return nil
}
