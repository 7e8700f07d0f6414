package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helios-portal/helios/internal/authz"
	"github.com/helios-portal/helios/internal/shared"
)

// PermissionGrant is the slice of a role→permission grant copied down to
// inheriting children.
type PermissionGrant struct {
	PermissionID int64
	StartsAt     *time.Time
	ExpiresAt    *time.Time
	Priority     int
	Polarity     authz.Polarity
}

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	SoftDeleteRole(ctx context.Context, id int64) error
	PermissionGrantsOf(ctx context.Context, roleID int64) ([]PermissionGrant, error)
}

// GrantCounter reports how many active grants reference an entity.
type GrantCounter interface {
	GrantsReferencing(ctx context.Context, entity string, id int64) (int64, error)
}

// Granter is the registry slice the role service needs to materialize
// inherited permission grants.
type Granter interface {
	Grant(ctx context.Context, p authz.GrantParams) (int64, error)
}

// ParentValidator rejects role parent references that would cycle.
type ParentValidator interface {
	ValidateRoleParent(ctx context.Context, roleID int64, proposedParentID *int64) error
}

// Invalidator drops memoized authorization decisions after entity mutations.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles role management logic.
type Service struct {
	repo        RepositoryPort
	grants      GrantCounter
	granter     Granter
	validator   ParentValidator
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds a Service instance. invalidator may be nil.
func NewService(repo RepositoryPort, grants GrantCounter, granter Granter, validator ParentValidator, invalidator Invalidator) *Service {
	return &Service{repo: repo, grants: grants, granter: granter, validator: validator, invalidator: invalidator}
}

// WithLogger attaches a logger for reporting failed cache invalidations.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// invalidate bumps the decision cache. A failed bump leaves stale entries
// until the TTL backstop, so it is logged rather than swallowed.
func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("decision cache bump", slog.Any("error", err))
	}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role, validating the parent reference and
// materializing inherited permission grants when requested.
func (s *Service) CreateRole(ctx context.Context, role Role, actorID int64) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	if err := s.validator.ValidateRoleParent(ctx, 0, role.ParentID); err != nil {
		return Role{}, err
	}
	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	if created.InheritPermissions && created.ParentID != nil {
		if err := s.syncInherited(ctx, created, actorID); err != nil {
			return Role{}, err
		}
	}
	return created, nil
}

// UpdateRole updates a role. System roles reject all mutation.
func (s *Service) UpdateRole(ctx context.Context, role Role, actorID int64) (Role, error) {
	existing, err := s.repo.GetRole(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	if existing.IsSystem {
		return Role{}, fmt.Errorf("%w: role %q", shared.ErrSystemProtected, existing.Name)
	}
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	if err := s.validator.ValidateRoleParent(ctx, role.ID, role.ParentID); err != nil {
		return Role{}, err
	}
	updated, err := s.repo.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	// Activation or priority changes alter decisions immediately.
	s.invalidate(ctx)
	if updated.InheritPermissions && updated.ParentID != nil {
		if err := s.syncInherited(ctx, updated, actorID); err != nil {
			return Role{}, err
		}
	}
	return updated, nil
}

// DeleteRole soft-deletes a role. System roles and roles still referenced by
// active grants are protected.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return fmt.Errorf("%w: role %q", shared.ErrSystemProtected, existing.Name)
	}
	count, err := s.grants.GrantsReferencing(ctx, "roles", id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: role %d is referenced by %d grants", shared.ErrGrantsExist, id, count)
	}
	if err := s.repo.SoftDeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// syncInherited copies the parent's permission grants onto the role, marked
// inherited. Copies go through the registry so the upsert invariant and cache
// invalidation apply; resolution mechanics treat them like direct grants.
func (s *Service) syncInherited(ctx context.Context, role Role, actorID int64) error {
	parentGrants, err := s.repo.PermissionGrantsOf(ctx, *role.ParentID)
	if err != nil {
		return err
	}
	for _, g := range parentGrants {
		_, err := s.granter.Grant(ctx, authz.GrantParams{
			Kind:      authz.KindRolePermission,
			SubjectID: role.ID,
			TargetID:  g.PermissionID,
			Window:    authz.Window{StartsAt: g.StartsAt, ExpiresAt: g.ExpiresAt},
			Priority:  g.Priority,
			Polarity:  g.Polarity,
			Inherited: true,
			ActorID:   actorID,
		})
		if err != nil {
			return fmt.Errorf("roles: inherit permission %d: %w", g.PermissionID, err)
		}
	}
	return nil
}
