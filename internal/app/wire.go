package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/fanclash/settlement/internal/blob/s3"
	"github.com/fanclash/settlement/internal/cache/redis"
	"github.com/fanclash/settlement/internal/config"
	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/platform/scores"
	"github.com/fanclash/settlement/internal/platform/treasury"
	"github.com/fanclash/settlement/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore domain.MarketStore
	StakeStore  domain.StakeStore
	DuelStore   domain.DuelStore
	Outbox      domain.TransferOutbox
	AuditStore  domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// External services
	Results     domain.ResultSource
	Transferrer domain.Transferrer

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver
}

// needsSettlement returns true for modes that run the settlement workers and
// therefore need the scores and treasury clients.
func needsSettlement(mode string) bool {
	switch mode {
	case "settler", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	auditStore := postgres.NewAuditStore(pool)
	outboxStore := postgres.NewOutboxStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.StakeStore = postgres.NewStakeStore(pool)
	deps.DuelStore = postgres.NewDuelStore(pool)
	deps.Outbox = outboxStore
	deps.AuditStore = auditStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- External services (settlement modes only) ---
	if needsSettlement(cfg.Mode) {
		deps.Results = scores.NewClient(cfg.Scores.BaseURL, cfg.Scores.APIKey, cfg.Scores.Timeout.Duration)
		deps.Transferrer = treasury.NewClient(cfg.Treasury.BaseURL, cfg.Treasury.APIKey, cfg.Treasury.Timeout.Duration)
	}

	// --- S3 audit export storage ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, auditStore, outboxStore, auditStore)
	}

	slog.Default().InfoContext(ctx, "wire: dependencies ready",
		slog.String("mode", cfg.Mode),
		slog.Bool("archive", cfg.Archive.Enabled),
	)

	return deps, cleanup, nil
}
