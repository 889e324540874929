package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides. A .env file in the working
// directory is loaded first if present. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads LEAGUE_* variables plus the conventional PORT,
// DATABASE_URL and REDIS_URL.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "LEAGUE_LOG_LEVEL")
	setStr(&cfg.LogFormat, "LEAGUE_LOG_FORMAT")

	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "LEAGUE_SERVER_PORT")
	setStr(&cfg.Server.AdminToken, "LEAGUE_ADMIN_TOKEN")

	setTime(&cfg.League.Anchor, "LEAGUE_ANCHOR")
	setDuration(&cfg.League.PeriodLength, "LEAGUE_PERIOD_LENGTH")
	setDecimal(&cfg.League.PrizePool, "LEAGUE_PRIZE_POOL")
	setDecimal(&cfg.League.PayoutFraction, "LEAGUE_PAYOUT_FRACTION")
	setInt(&cfg.League.BasketSize, "LEAGUE_BASKET_SIZE")
	setStringSlice(&cfg.League.Assets, "LEAGUE_ASSETS")
	setStr(&cfg.League.ResubmissionPolicy, "LEAGUE_RESUBMISSION_POLICY")
	setFloat64(&cfg.League.SubmitRate, "LEAGUE_SUBMIT_RATE")
	setInt(&cfg.League.SubmitBurst, "LEAGUE_SUBMIT_BURST")

	setStr(&cfg.Database.URL, "DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "LEAGUE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "LEAGUE_CACHE_TTL")

	setStr(&cfg.Oracle.RPCURL, "LEAGUE_RPC_URL")
	setDuration(&cfg.Oracle.Timeout, "LEAGUE_PRICE_TIMEOUT")

	setBool(&cfg.Archive.Enabled, "LEAGUE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "LEAGUE_S3_ENDPOINT")
	setStr(&cfg.Archive.Region, "LEAGUE_S3_REGION")
	setStr(&cfg.Archive.Bucket, "LEAGUE_S3_BUCKET")
	setStr(&cfg.Archive.AccessKey, "LEAGUE_S3_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "LEAGUE_S3_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "LEAGUE_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Scheduler.Enabled, "LEAGUE_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.Schedule, "LEAGUE_SCHEDULER_SCHEDULE")
}

// SetupLogging installs the default slog logger.
func (c *Config) SetupLogging() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(c.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Typed env-var helpers. Each only mutates the target when the variable is
// set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setTime(dst *time.Time, key string) {
	if v := os.Getenv(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			*dst = t
		} else if t, err := time.Parse(time.DateOnly, v); err == nil {
			*dst = t
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
