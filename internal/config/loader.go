package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FANCLASH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FANCLASH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "FANCLASH_DATABASE_DSN")
	setStr(&cfg.Database.Host, "FANCLASH_DATABASE_HOST")
	setInt(&cfg.Database.Port, "FANCLASH_DATABASE_PORT")
	setStr(&cfg.Database.Database, "FANCLASH_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "FANCLASH_DATABASE_USER")
	setStr(&cfg.Database.Password, "FANCLASH_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "FANCLASH_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "FANCLASH_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "FANCLASH_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "FANCLASH_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FANCLASH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FANCLASH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FANCLASH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FANCLASH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FANCLASH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FANCLASH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FANCLASH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FANCLASH_S3_REGION")
	setStr(&cfg.S3.Bucket, "FANCLASH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FANCLASH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FANCLASH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FANCLASH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FANCLASH_S3_FORCE_PATH_STYLE")

	// ── Scores ──
	setStr(&cfg.Scores.BaseURL, "FANCLASH_SCORES_BASE_URL")
	setStr(&cfg.Scores.APIKey, "FANCLASH_SCORES_API_KEY")
	setDuration(&cfg.Scores.Timeout, "FANCLASH_SCORES_TIMEOUT")

	// ── Treasury ──
	setStr(&cfg.Treasury.BaseURL, "FANCLASH_TREASURY_BASE_URL")
	setStr(&cfg.Treasury.APIKey, "FANCLASH_TREASURY_API_KEY")
	setDuration(&cfg.Treasury.Timeout, "FANCLASH_TREASURY_TIMEOUT")
	setStr(&cfg.Treasury.Account, "FANCLASH_TREASURY_ACCOUNT")

	// ── Engine ──
	setStr(&cfg.Engine.RemainderPolicy, "FANCLASH_ENGINE_REMAINDER_POLICY")
	setDuration(&cfg.Engine.SettleInterval, "FANCLASH_ENGINE_SETTLE_INTERVAL")
	setDuration(&cfg.Engine.DispatchInterval, "FANCLASH_ENGINE_DISPATCH_INTERVAL")
	setInt64(&cfg.Engine.MaxStake, "FANCLASH_ENGINE_MAX_STAKE")
	setInt(&cfg.Engine.StakeRateLimit, "FANCLASH_ENGINE_STAKE_RATE_LIMIT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FANCLASH_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FANCLASH_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "FANCLASH_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FANCLASH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FANCLASH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FANCLASH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FANCLASH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FANCLASH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FANCLASH_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FANCLASH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FANCLASH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FANCLASH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FANCLASH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FANCLASH_MODE")
	setStr(&cfg.LogLevel, "FANCLASH_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
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
