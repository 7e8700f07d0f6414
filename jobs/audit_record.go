package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/helios-portal/helios/internal/audit"
)

// AuditRecordJob drains queued audit records into the store. Records carry a
// uuid event id, so redeliveries insert at most once.
type AuditRecordJob struct {
	Store  *audit.Store
	Logger *slog.Logger
}

// NewAuditRecordJob wires dependencies for the audit sink handler.
func NewAuditRecordJob(store *audit.Store, logger *slog.Logger) *AuditRecordJob {
	return &AuditRecordJob{Store: store, Logger: logger}
}

// Handle processes TaskTypeAuditRecord tasks.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("audit record: handler not configured")
	}
	var rec audit.Record
	if err := json.Unmarshal(t.Payload(), &rec); err != nil {
		return asynq.SkipRetry
	}
	if err := j.Store.Record(ctx, rec); err != nil {
		if j.Logger != nil {
			j.Logger.Error("audit record", slog.String("action", rec.Action), slog.Any("error", err))
		}
		return err
	}
	return nil
}
