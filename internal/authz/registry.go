package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helios-portal/helios/internal/platform/db"
	"github.com/helios-portal/helios/internal/shared"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint hits.
const pgUniqueViolation = "23505"

// GrantParams describes a grant or re-grant request.
type GrantParams struct {
	Kind      RelationKind
	SubjectID int64
	TargetID  int64
	Window    Window
	Priority  int
	Polarity  Polarity
	Inherited bool
	Primary   bool
	ActorID   int64
}

// MutationEvent is handed to the audit emitter after a registry write commits.
type MutationEvent struct {
	Action    string
	Kind      RelationKind
	SubjectID int64
	TargetID  int64
	GrantID   int64
	ActorID   int64
	At        time.Time
}

// MutationEmitter receives committed grant mutations, fire-and-forget.
type MutationEmitter interface {
	GrantMutated(ctx context.Context, ev MutationEvent)
}

// ConflictObserver counts grant writes aborted by conflicts.
type ConflictObserver interface {
	ObserveGrantConflict()
}

// RegistryStore is the read surface grant writes consult before mutating.
// *Repository is the production implementation; tests substitute fakes.
type RegistryStore interface {
	SubjectExists(ctx context.Context, kind RelationKind, subjectID int64) (bool, error)
	TargetExists(ctx context.Context, kind RelationKind, targetID int64) (bool, error)
	MenuNode(ctx context.Context, id int64) (Node, error)
}

// Registry is the transactional mutation surface for grants. Each write
// validates structure, upserts inside a RepeatableRead transaction, and bumps
// the decision cache only after the commit succeeds.
type Registry struct {
	repo      RegistryStore
	validator *HierarchyValidator
	cache     *DecisionCache
	emitter   MutationEmitter
	conflicts ConflictObserver
	logger    *slog.Logger
	runTx     func(ctx context.Context, fn func(pgx.Tx) error) error
	now       func() time.Time
}

// NewRegistry constructs a Registry. emitter may be nil.
func NewRegistry(pool *pgxpool.Pool, repo RegistryStore, validator *HierarchyValidator, cache *DecisionCache, emitter MutationEmitter, logger *slog.Logger) *Registry {
	return &Registry{
		repo:      repo,
		validator: validator,
		cache:     cache,
		emitter:   emitter,
		logger:    logger,
		runTx: func(ctx context.Context, fn func(pgx.Tx) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		now: time.Now,
	}
}

// WithClock overrides the registry clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// WithConflictObserver wires a conflict counter. observer may be nil.
func (r *Registry) WithConflictObserver(observer ConflictObserver) *Registry {
	r.conflicts = observer
	return r
}

// Grant creates or updates the single non-deleted grant for the pair. A
// re-grant of an existing pair rewrites window, priority, and polarity on the
// existing row rather than duplicating it. The returned id identifies that row.
func (r *Registry) Grant(ctx context.Context, p GrantParams) (int64, error) {
	if !p.Kind.Valid() {
		return 0, fmt.Errorf("authz: invalid relation kind %q", p.Kind)
	}
	if p.Polarity != PolarityGrant && p.Polarity != PolarityDeny {
		return 0, fmt.Errorf("authz: invalid polarity %q", p.Polarity)
	}
	if p.Window.StartsAt != nil && p.Window.ExpiresAt != nil && !p.Window.StartsAt.Before(*p.Window.ExpiresAt) {
		return 0, fmt.Errorf("%w: starts_at must precede expires_at", shared.ErrValidation)
	}

	ok, err := r.repo.SubjectExists(ctx, p.Kind, p.SubjectID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: subject %d", shared.ErrNotFound, p.SubjectID)
	}
	ok, err = r.repo.TargetExists(ctx, p.Kind, p.TargetID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: target %d", shared.ErrNotFound, p.TargetID)
	}
	if p.Kind == KindRoleMenu {
		// A menu whose recorded placement violates the structural invariants
		// must not become reachable through a grant.
		node, err := r.repo.MenuNode(ctx, p.TargetID)
		if err != nil {
			return 0, err
		}
		if _, err := r.validator.ValidateMenuPlacement(ctx, node.ID, node.ParentID); err != nil {
			return 0, err
		}
	}

	table := grantTables[p.Kind]
	now := r.now()
	var grantID int64
	err = r.runTx(ctx, func(tx pgx.Tx) error {
		var existing int64
		query := fmt.Sprintf(`SELECT id FROM %s WHERE subject_id = $1 AND target_id = $2 AND deleted_at IS NULL FOR UPDATE`, table)
		err := tx.QueryRow(ctx, query, p.SubjectID, p.TargetID).Scan(&existing)
		switch {
		case err == nil:
			update := fmt.Sprintf(`UPDATE %s SET is_active = TRUE, starts_at = $2, expires_at = $3, priority = $4, polarity = $5, inherited = $6, updated_by = $7, updated_at = $8 WHERE id = $1`, table)
			if _, err := tx.Exec(ctx, update, existing, p.Window.StartsAt, p.Window.ExpiresAt, p.Priority, p.Polarity, p.Inherited, p.ActorID, now); err != nil {
				return err
			}
			grantID = existing
		case errors.Is(err, pgx.ErrNoRows):
			insert := fmt.Sprintf(`INSERT INTO %s (subject_id, target_id, is_active, starts_at, expires_at, priority, polarity, inherited, created_by, updated_by, created_at, updated_at)
				VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $8, $9, $9) RETURNING id`, table)
			if err := tx.QueryRow(ctx, insert, p.SubjectID, p.TargetID, p.Window.StartsAt, p.Window.ExpiresAt, p.Priority, p.Polarity, p.Inherited, p.ActorID, now).Scan(&grantID); err != nil {
				return err
			}
		default:
			return err
		}
		if p.Kind == KindUserRole {
			return r.applyPrimary(ctx, tx, grantID, p)
		}
		return nil
	})
	if err != nil {
		return 0, r.mapConflict(err)
	}

	r.afterCommit(ctx, MutationEvent{
		Action:    "grant",
		Kind:      p.Kind,
		SubjectID: p.SubjectID,
		TargetID:  p.TargetID,
		GrantID:   grantID,
		ActorID:   p.ActorID,
		At:        now,
	})
	return grantID, nil
}

// applyPrimary maintains the at-most-one-primary-role-per-user invariant.
func (r *Registry) applyPrimary(ctx context.Context, tx pgx.Tx, grantID int64, p GrantParams) error {
	if !p.Primary {
		_, err := tx.Exec(ctx, `UPDATE user_roles SET is_primary = FALSE WHERE id = $1`, grantID)
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE user_roles SET is_primary = FALSE WHERE subject_id = $1 AND deleted_at IS NULL AND id <> $2`, p.SubjectID, grantID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE user_roles SET is_primary = TRUE WHERE id = $1`, grantID)
	return err
}

// Revoke soft-deletes the non-deleted grant for the pair. Revoking a pair
// that holds no grant returns shared.ErrNotFound so callers can distinguish
// the idempotent no-op. Grants referencing system-flagged entities revoke
// freely; the system flag protects the entity, not its assignments.
func (r *Registry) Revoke(ctx context.Context, kind RelationKind, subjectID, targetID, actorID int64) error {
	if !kind.Valid() {
		return fmt.Errorf("authz: invalid relation kind %q", kind)
	}
	table := grantTables[kind]
	now := r.now()
	var grantID int64
	err := r.runTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`UPDATE %s SET deleted_at = $3, updated_by = $4, updated_at = $3 WHERE subject_id = $1 AND target_id = $2 AND deleted_at IS NULL RETURNING id`, table)
		err := tx.QueryRow(ctx, query, subjectID, targetID, now, actorID).Scan(&grantID)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return err
	})
	if err != nil {
		return r.mapConflict(err)
	}

	r.afterCommit(ctx, MutationEvent{
		Action:    "revoke",
		Kind:      kind,
		SubjectID: subjectID,
		TargetID:  targetID,
		GrantID:   grantID,
		ActorID:   actorID,
		At:        now,
	})
	return nil
}

// afterCommit bumps the decision cache and notifies the emitter. Runs only
// once the transaction is durable; bumping earlier would let a concurrent
// reader repopulate the cache from the pre-mutation state.
func (r *Registry) afterCommit(ctx context.Context, ev MutationEvent) {
	if err := r.cache.Bump(ctx); err != nil && r.logger != nil {
		r.logger.Error("authz cache bump", slog.Any("error", err))
	}
	if r.emitter != nil {
		r.emitter.GrantMutated(ctx, ev)
	}
}

// mapConflict converts serialization failures and unique violations into the
// retryable conflict error. The partial unique index on (subject_id,
// target_id) among non-deleted rows makes the losing writer of a duplicate
// insert surface here instead of silently duplicating.
func (r *Registry) mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, "40001", "40P01":
			if r.conflicts != nil {
				r.conflicts.ObserveGrantConflict()
			}
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Code)
		}
	}
	return err
}
