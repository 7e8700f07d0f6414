package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/helios-portal/helios/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditRecord persists one audit trail entry.
	TaskTypeAuditRecord = "audit:record"
	// TaskTypeContentSweep expires published content past its window.
	TaskTypeContentSweep = "content:sweep"
)

// NewAuditRecordTask constructs an Asynq task carrying one audit record.
func NewAuditRecordTask(rec audit.Record) (*asynq.Task, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditRecord, data), nil
}

// NewContentSweepTask constructs the scheduled content expiry sweep task.
func NewContentSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeContentSweep, nil)
}
