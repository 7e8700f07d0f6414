package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/helios-portal/helios/internal/content"
)

// ContentSweepJob expires published content whose window has elapsed.
type ContentSweepJob struct {
	Content *content.Service
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewContentSweepJob wires dependencies for the sweep handler.
func NewContentSweepJob(contentSvc *content.Service, logger *slog.Logger) *ContentSweepJob {
	return &ContentSweepJob{
		Content: contentSvc,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskTypeContentSweep tasks.
func (j *ContentSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Content == nil {
		return errors.New("content sweep: handler not configured")
	}
	started := j.clock()
	n, err := j.Content.SweepExpired(ctx)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Error("content sweep", slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("content sweep complete",
			slog.Int64("expired", n),
			slog.Duration("took", j.clock().Sub(started)))
	}
	return nil
}
