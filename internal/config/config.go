// Package config defines the node configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Protocol ProtocolConfig `toml:"protocol"`
	Keys     KeysConfig     `toml:"keys"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig selects the account store and the collateral token.
type LedgerConfig struct {
	// Store is "memory" or "postgres".
	Store string `toml:"store"`
	// CommitLock guards commits with a redis lock so several nodes can share
	// one postgres store.
	CommitLock    bool     `toml:"commit_lock"`
	CommitLockTTL duration `toml:"commit_lock_ttl"`
	// CollateralMint names the collateral token; the operator is its mint
	// authority.
	CollateralMint     string   `toml:"collateral_mint"`
	CollateralDecimals uint8    `toml:"collateral_decimals"`
	ReplayWindow       duration `toml:"replay_window"`
}

// ProtocolConfig holds the numeric protocol parameters.
type ProtocolConfig struct {
	UnitPrice             uint64   `toml:"unit_price"`
	MinProposalBond       uint64   `toml:"min_proposal_bond"`
	MinDisputeBond        uint64   `toml:"min_dispute_bond"`
	DisputeWindow         duration `toml:"dispute_window"`
	OracleReward          uint64   `toml:"oracle_reward"`
	MaxOracleStaleness    duration `toml:"max_oracle_staleness"`
	MaxPriceDeviationBps  uint64   `toml:"max_price_deviation_bps"`
	MaxPriceConfidenceBps uint64   `toml:"max_price_confidence_bps"`
	MinExpiry             duration `toml:"min_expiry"`
	MaxExpiry             duration `toml:"max_expiry"`
	ResolutionWindow      duration `toml:"resolution_window"`
}

// Params converts the section to protocol parameters.
func (p ProtocolConfig) Params(collateralDecimals uint8) domain.Params {
	return domain.Params{
		UnitPrice:             p.UnitPrice,
		CollateralDecimals:    collateralDecimals,
		MinProposalBond:       p.MinProposalBond,
		MinDisputeBond:        p.MinDisputeBond,
		DisputeWindow:         p.DisputeWindow.Duration,
		OracleReward:          p.OracleReward,
		MaxOracleStaleness:    p.MaxOracleStaleness.Duration,
		MaxPriceDeviationBps:  p.MaxPriceDeviationBps,
		MaxPriceConfidenceBps: p.MaxPriceConfidenceBps,
		MinExpiry:             p.MinExpiry.Duration,
		MaxExpiry:             p.MaxExpiry.Duration,
		ResolutionWindow:      p.ResolutionWindow.Duration,
	}
}

// KeysConfig holds the operator key, raw or as an encrypted key file.
type KeysConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr runs the
// node without redis.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	ViewTTL    duration `toml:"view_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the event archival job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// Retention is RetentionDays as a duration.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// RateLimit caps messages per sender per minute; zero disables.
	RateLimit int `toml:"rate_limit"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	p := domain.DefaultParams()
	return Config{
		Ledger: LedgerConfig{
			Store:              "memory",
			CommitLockTTL:      duration{10 * time.Second},
			CollateralMint:     "usdc",
			CollateralDecimals: p.CollateralDecimals,
			ReplayWindow:       duration{24 * time.Hour},
		},
		Protocol: ProtocolConfig{
			UnitPrice:             p.UnitPrice,
			MinProposalBond:       p.MinProposalBond,
			MinDisputeBond:        p.MinDisputeBond,
			DisputeWindow:         duration{p.DisputeWindow},
			OracleReward:          p.OracleReward,
			MaxOracleStaleness:    duration{p.MaxOracleStaleness},
			MaxPriceDeviationBps:  p.MaxPriceDeviationBps,
			MaxPriceConfidenceBps: p.MaxPriceConfidenceBps,
			MinExpiry:             duration{p.MinExpiry},
			MaxExpiry:             duration{p.MaxExpiry},
			ResolutionWindow:      duration{p.ResolutionWindow},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			ViewTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketvault-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Notify: NotifyConfig{
			RateLimit: 20,
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"node":    true,
	"archive": true,
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: node, archive)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Ledger
	if !validStores[c.Ledger.Store] {
		add("ledger: unknown store %q (valid: memory, postgres)", c.Ledger.Store)
	}
	if mode == "archive" && c.Ledger.Store != "postgres" {
		add("ledger: archive mode needs the postgres store")
	}
	if c.Ledger.CommitLock {
		if c.Redis.Addr == "" {
			add("ledger: commit_lock needs redis.addr")
		}
		if c.Ledger.CommitLockTTL.Duration <= 0 {
			add("ledger: commit_lock_ttl must be > 0")
		}
		if c.Ledger.Store != "postgres" {
			add("ledger: commit_lock only makes sense with the postgres store")
		}
	}
	if strings.TrimSpace(c.Ledger.CollateralMint) == "" {
		add("ledger: collateral_mint must not be empty")
	}
	if c.Ledger.ReplayWindow.Duration <= 0 {
		add("ledger: replay_window must be > 0")
	}

	// Protocol
	p := c.Protocol
	if p.UnitPrice == 0 {
		add("protocol: unit_price must be > 0")
	}
	if p.MinProposalBond == 0 || p.MinDisputeBond == 0 {
		add("protocol: min_proposal_bond and min_dispute_bond must be > 0")
	}
	if p.DisputeWindow.Duration <= 0 {
		add("protocol: dispute_window must be > 0")
	}
	if p.MaxOracleStaleness.Duration <= 0 {
		add("protocol: max_oracle_staleness must be > 0")
	}
	if p.MaxPriceDeviationBps > 10_000 || p.MaxPriceConfidenceBps > 10_000 {
		add("protocol: basis point limits must be <= 10000")
	}
	if p.MinExpiry.Duration <= 0 || p.MaxExpiry.Duration < p.MinExpiry.Duration {
		add("protocol: need 0 < min_expiry <= max_expiry")
	}
	if p.ResolutionWindow.Duration <= 0 {
		add("protocol: resolution_window must be > 0")
	}

	// Keys
	if c.Keys.PrivateKey == "" && c.Keys.EncryptedKeyPath == "" && mode == "node" {
		add("keys: either private_key or encrypted_key_path must be set")
	}
	if c.Keys.EncryptedKeyPath != "" && c.Keys.KeyPassword == "" {
		add("keys: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if c.Ledger.Store == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
		if c.Archive.Enabled {
			if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
				add("archive: cron: %v", err)
			}
		}
		if c.Archive.Enabled && c.Ledger.Store != "postgres" {
			add("archive: needs the postgres store")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
