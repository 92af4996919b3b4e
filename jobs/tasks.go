package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatementWarmup preloads supplier statements into the cache.
	TaskStatementWarmup = "ap:statement_warmup"
	// TaskIdempotencyCleanup drops expired payment-order idempotency keys.
	TaskIdempotencyCleanup = "ap:idempotency_cleanup"
)

// StatementWarmupPayload selects the suppliers to warm. An empty list warms
// every supplier with an open balance.
type StatementWarmupPayload struct {
	SupplierIDs []int64 `json:"supplier_ids,omitempty"`
}

// IdempotencyCleanupPayload carries the retention window. Zero falls back to
// the job's configured retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewStatementWarmupTask constructs a warmup task.
func NewStatementWarmupTask(supplierIDs []int64) (*asynq.Task, error) {
	data, err := json.Marshal(StatementWarmupPayload{SupplierIDs: supplierIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementWarmup, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Unique(time.Hour)), nil
}
