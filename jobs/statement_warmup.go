package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/supplier-ledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatementWarmer loads a supplier statement into the cache.
type StatementWarmer interface {
	WarmStatement(ctx context.Context, supplierID int64) error
}

// SupplierLister finds the suppliers worth warming.
type SupplierLister interface {
	ListSuppliersWithOpenBalance(ctx context.Context) ([]int64, error)
}

// StatementWarmupJob pre-populates the statement cache.
type StatementWarmupJob struct {
	Warmer    StatementWarmer
	Suppliers SupplierLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Timeout   time.Duration
}

// NewStatementWarmupJob wires dependencies for the warmup handler.
func NewStatementWarmupJob(warmer StatementWarmer, suppliers SupplierLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatementWarmupJob {
	return &StatementWarmupJob{Warmer: warmer, Suppliers: suppliers, Logger: logger, Metrics: metrics, Timeout: 20 * time.Second}
}

// Handle processes TaskStatementWarmup tasks. A supplier that fails to warm
// is logged and skipped; the run fails only when every supplier failed.
func (j *StatementWarmupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Warmer == nil {
		return errors.New("statement warmup: handler not configured")
	}
	var payload StatementWarmupPayload
	if len(t.Payload()) > 0 {
		if uerr := json.Unmarshal(t.Payload(), &payload); uerr != nil {
			return fmt.Errorf("statement warmup: decode payload: %v: %w", uerr, asynq.SkipRetry)
		}
	}

	metrics := j.metrics()
	tracker := metrics.Track(TaskStatementWarmup)
	defer func() { err = tracker.End(err) }()

	logger := j.logger()
	ids := payload.SupplierIDs
	if len(ids) == 0 {
		if j.Suppliers == nil {
			return errors.New("statement warmup: no suppliers given and no lister configured")
		}
		if ids, err = j.Suppliers.ListSuppliersWithOpenBalance(ctx); err != nil {
			logger.Error("list suppliers", slog.Any("error", err))
			return err
		}
	}
	if len(ids) == 0 {
		logger.Info("no suppliers to warm")
		return nil
	}

	start := time.Now()
	var warmed int64
	var lastErr error
	for _, id := range ids {
		if werr := j.warm(ctx, id); werr != nil {
			lastErr = werr
			logger.Warn("warm statement", slog.Int64("supplier_id", id), slog.Any("error", werr))
			continue
		}
		warmed++
	}
	metrics.AddItems(TaskStatementWarmup, warmed)
	logger.Info("completed statement warmup",
		slog.Int64("warmed", warmed),
		slog.Int("requested", len(ids)),
		slog.Duration("duration", time.Since(start)))
	if warmed == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (j *StatementWarmupJob) warm(ctx context.Context, supplierID int64) error {
	if j.Timeout <= 0 {
		return j.Warmer.WarmStatement(ctx, supplierID)
	}
	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()
	return j.Warmer.WarmStatement(ctx, supplierID)
}

func (j *StatementWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatementWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStatementWarmup))
}

func (j *StatementWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
