// Package config loads the league engine configuration from built-in
// defaults, an optional TOML file, a .env file and environment variables,
// in that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration.
type Config struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // json or text

	Server    ServerConfig    `toml:"server"`
	League    LeagueConfig    `toml:"league"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Oracle    OracleConfig    `toml:"oracle"`
	Archive   ArchiveConfig   `toml:"archive"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int      `toml:"port"`
	AdminToken      string   `toml:"admin_token"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// LeagueConfig holds the competition rules.
type LeagueConfig struct {
	// Anchor is the start of period 1; it is moved back to Monday 00:00 UTC.
	Anchor         time.Time       `toml:"anchor"`
	PeriodLength   duration        `toml:"period_length"`
	PrizePool      decimal.Decimal `toml:"prize_pool"`
	PayoutFraction decimal.Decimal `toml:"payout_fraction"`
	BasketSize     int             `toml:"basket_size"`
	Assets         []string        `toml:"assets"`

	// ResubmissionPolicy is "reject" or "restart".
	ResubmissionPolicy string `toml:"resubmission_policy"`

	// SubmitRate is the sustained submissions per second allowed per
	// participant, with SubmitBurst on top. Zero disables limiting.
	SubmitRate  float64 `toml:"submit_rate"`
	SubmitBurst int     `toml:"submit_burst"`
}

// DatabaseConfig configures PostgreSQL. An empty URL selects another store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig configures Redis. With a database URL it acts as a cache;
// on its own it is the store.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// OracleConfig configures the Chainlink price source. An empty RPCURL
// selects the in-memory price table.
type OracleConfig struct {
	RPCURL      string            `toml:"rpc_url"`
	Feeds       map[string]string `toml:"feeds"`
	Fixed       map[string]string `toml:"fixed"`
	MaxLookback int               `toml:"max_lookback"`

	Timeout            duration `toml:"timeout"`
	BreakerFailures    int      `toml:"breaker_failures"`
	BreakerOpenTimeout duration `toml:"breaker_open_timeout"`
}

// ArchiveConfig configures the S3 export of final standings.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SchedulerConfig configures the rollover watcher.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

// duration is a time.Duration that decodes from TOML strings like "5s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs a weekly league on the
// in-memory store and price table.
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
			ShutdownTimeout: duration{30 * time.Second},
		},
		League: LeagueConfig{
			Anchor:             time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
			PeriodLength:       duration{7 * 24 * time.Hour},
			PrizePool:          decimal.NewFromInt(1000),
			PayoutFraction:     decimal.NewFromFloat(0.3),
			BasketSize:         3,
			Assets:             []string{"BTC", "ETH", "SOL", "USDC"},
			ResubmissionPolicy: "reject",
			SubmitRate:         0.2,
			SubmitBurst:        3,
		},
		Database: DatabaseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			// Chainlink USD aggregators on Ethereum mainnet.
			Feeds: map[string]string{
				"BTC": "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
				"ETH": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
				"SOL": "0x4ffC43a60e009B551865A93d232E33Fce9f01507",
			},
			Fixed:              map[string]string{"USDC": "1"},
			MaxLookback:        500,
			Timeout:            duration{5 * time.Second},
			BreakerFailures:    5,
			BreakerOpenTimeout: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "league",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		add("log_format must be json or text, got %q", c.LogFormat)
	}

	l := c.League
	if l.PeriodLength.Duration <= 0 {
		add("league.period_length must be positive")
	}
	if l.PrizePool.IsNegative() {
		add("league.prize_pool must not be negative, got %s", l.PrizePool)
	}
	if l.PayoutFraction.IsNegative() || l.PayoutFraction.GreaterThan(decimal.NewFromInt(1)) {
		add("league.payout_fraction must be in [0, 1], got %s", l.PayoutFraction)
	}
	if l.BasketSize < 1 {
		add("league.basket_size must be positive, got %d", l.BasketSize)
	}
	if len(l.Assets) < l.BasketSize {
		add("league.assets lists %d assets, fewer than basket_size %d", len(l.Assets), l.BasketSize)
	}
	switch strings.ToLower(l.ResubmissionPolicy) {
	case "", "reject", "restart":
	default:
		add("league.resubmission_policy must be reject or restart, got %q", l.ResubmissionPolicy)
	}
	if l.SubmitRate < 0 || l.SubmitBurst < 0 {
		add("league.submit_rate and submit_burst must not be negative")
	}

	if c.Oracle.RPCURL != "" {
		for _, a := range l.Assets {
			a = strings.ToUpper(a)
			_, feed := c.Oracle.Feeds[a]
			_, fixed := c.Oracle.Fixed[a]
			if !feed && !fixed {
				add("oracle: asset %s has neither a feed nor a fixed price", a)
			}
		}
	}
	for a, v := range c.Oracle.Fixed {
		if _, err := decimal.NewFromString(v); err != nil {
			add("oracle.fixed.%s: %v", a, err)
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		add("archive.bucket is required when archive is enabled")
	}

	return errors.Join(errs...)
}
