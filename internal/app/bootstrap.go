package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/supplier-ledger/internal/ap"
	"github.com/odyssey-erp/supplier-ledger/internal/platform/cache"
	"github.com/odyssey-erp/supplier-ledger/internal/platform/db"
	"github.com/odyssey-erp/supplier-ledger/internal/shared"
	"github.com/odyssey-erp/supplier-ledger/report"
)

// Ledger bundles the connections and services every binary needs.
type Ledger struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Repository *ap.PGRepository
	Service    *ap.Service
	PDF        *report.Client
}

// OpenLedger connects to PostgreSQL and Redis and wires the ledger service.
// Metrics register against registerer; nil uses the default registerer.
func OpenLedger(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Ledger, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		logger.Warn("redis disabled, statements are not cached and submissions are not locked across instances")
	}

	l := &Ledger{Pool: pool, Redis: client, Repository: ap.NewPGRepository(pool)}
	var renderer ap.PDFRenderer
	if cfg.GotenbergURL != "" {
		l.PDF = report.NewClient(cfg.GotenbergURL)
		renderer = l.PDF
		if err := l.PDF.Ping(ctx); err != nil {
			logger.Warn("gotenberg ping", slog.Any("error", err))
		}
	}
	l.Service = ap.NewService(
		l.Repository,
		ap.NewStatementCache(client, cfg.StatementCacheTTL),
		renderer,
		shared.NewLocker(client),
		ap.NewMetrics(registerer),
		logger,
	)
	return l, nil
}

// Close releases the ledger's connections.
func (l *Ledger) Close(logger *slog.Logger) {
	if l == nil {
		return
	}
	if l.Redis != nil {
		if err := l.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	l.Pool.Close()
}
