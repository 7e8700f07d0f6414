package audit

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/helios-portal/helios/internal/authz"
)

// Enqueuer hands records to the background queue. The jobs client is the
// production implementation.
type Enqueuer interface {
	EnqueueAuditRecord(ctx context.Context, rec Record) error
}

// Emitter translates authorization events into queued audit records. Emission
// is fire-and-forget; enqueue failures are logged and dropped so the request
// path never stalls on the queue.
type Emitter struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewEmitter builds an Emitter instance.
func NewEmitter(queue Enqueuer, logger *slog.Logger) *Emitter {
	return &Emitter{queue: queue, logger: logger}
}

// DecisionRecorded queues an audit record for a resolution outcome.
func (e *Emitter) DecisionRecorded(ctx context.Context, ev authz.DecisionEvent) {
	if e == nil || e.queue == nil {
		return
	}
	outcome := "deny"
	if ev.Decision == authz.Allow {
		outcome = "allow"
	}
	e.emit(ctx, Record{
		EventID:  uuid.NewString(),
		ActorID:  ev.SubjectID,
		Action:   "authz.decision." + outcome,
		Entity:   string(ev.Kind),
		EntityID: strconv.FormatInt(ev.TargetID, 10),
		Meta: map[string]any{
			"subject_id": ev.SubjectID,
			"target_id":  ev.TargetID,
		},
		At: ev.At,
	})
}

// GrantMutated queues an audit record for a committed grant write.
func (e *Emitter) GrantMutated(ctx context.Context, ev authz.MutationEvent) {
	if e == nil || e.queue == nil {
		return
	}
	e.emit(ctx, Record{
		EventID:  uuid.NewString(),
		ActorID:  ev.ActorID,
		Action:   "authz.grant." + ev.Action,
		Entity:   string(ev.Kind),
		EntityID: strconv.FormatInt(ev.GrantID, 10),
		Meta: map[string]any{
			"subject_id": ev.SubjectID,
			"target_id":  ev.TargetID,
		},
		At: ev.At,
	})
}

func (e *Emitter) emit(ctx context.Context, rec Record) {
	if err := e.queue.EnqueueAuditRecord(ctx, rec); err != nil && e.logger != nil {
		e.logger.Warn("audit enqueue failed", slog.String("action", rec.Action), slog.Any("error", err))
	}
}
