package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "MARKETD_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; call Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose MARKETD_* variable is set, so
// secrets can be injected at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Store, "LEDGER_STORE")
	setBool(&cfg.Ledger.CommitLock, "LEDGER_COMMIT_LOCK")
	setDuration(&cfg.Ledger.CommitLockTTL, "LEDGER_COMMIT_LOCK_TTL")
	setStr(&cfg.Ledger.CollateralMint, "LEDGER_COLLATERAL_MINT")
	setUint8(&cfg.Ledger.CollateralDecimals, "LEDGER_COLLATERAL_DECIMALS")
	setDuration(&cfg.Ledger.ReplayWindow, "LEDGER_REPLAY_WINDOW")

	// ── Protocol ──
	setUint64(&cfg.Protocol.UnitPrice, "PROTOCOL_UNIT_PRICE")
	setUint64(&cfg.Protocol.MinProposalBond, "PROTOCOL_MIN_PROPOSAL_BOND")
	setUint64(&cfg.Protocol.MinDisputeBond, "PROTOCOL_MIN_DISPUTE_BOND")
	setDuration(&cfg.Protocol.DisputeWindow, "PROTOCOL_DISPUTE_WINDOW")
	setUint64(&cfg.Protocol.OracleReward, "PROTOCOL_ORACLE_REWARD")
	setDuration(&cfg.Protocol.MaxOracleStaleness, "PROTOCOL_MAX_ORACLE_STALENESS")
	setUint64(&cfg.Protocol.MaxPriceDeviationBps, "PROTOCOL_MAX_PRICE_DEVIATION_BPS")
	setUint64(&cfg.Protocol.MaxPriceConfidenceBps, "PROTOCOL_MAX_PRICE_CONFIDENCE_BPS")
	setDuration(&cfg.Protocol.MinExpiry, "PROTOCOL_MIN_EXPIRY")
	setDuration(&cfg.Protocol.MaxExpiry, "PROTOCOL_MAX_EXPIRY")
	setDuration(&cfg.Protocol.ResolutionWindow, "PROTOCOL_RESOLUTION_WINDOW")

	// ── Keys ──
	setStr(&cfg.Keys.PrivateKey, "KEYS_PRIVATE_KEY")
	setStr(&cfg.Keys.EncryptedKeyPath, "KEYS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keys.KeyPassword, "KEYS_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ViewTTL, "REDIS_VIEW_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
	setInt(&cfg.Notify.RateLimit, "NOTIFY_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Keys are given without the prefix.
// ---------------------------------------------------------------------------

func env(key string) string { return os.Getenv(envPrefix + key) }

func setStr(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint8(dst *uint8, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			*dst = uint8(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := env(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := env(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := env(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
