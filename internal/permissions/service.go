package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helios-portal/helios/internal/shared"
)

// RepositoryPort defines data access methods for permissions.
type RepositoryPort interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	UpsertPermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	SoftDeletePermission(ctx context.Context, id int64) error
}

// GrantCounter reports how many active grants reference an entity.
type GrantCounter interface {
	GrantsReferencing(ctx context.Context, entity string, id int64) (int64, error)
}

// Invalidator drops memoized authorization decisions after entity mutations.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles permission management logic.
type Service struct {
	repo        RepositoryPort
	grants      GrantCounter
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds a Service instance. invalidator may be nil.
func NewService(repo RepositoryPort, grants GrantCounter, invalidator Invalidator) *Service {
	return &Service{repo: repo, grants: grants, invalidator: invalidator}
}

// WithLogger attaches a logger for reporting failed cache invalidations.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// EnsurePermission upserts a permission from its module.action name.
func (s *Service) EnsurePermission(ctx context.Context, name, category, description string, priority int) (Permission, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	module, action, ok := strings.Cut(name, ".")
	if !ok || module == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: permission name must follow module.action", shared.ErrValidation)
	}
	return s.repo.UpsertPermission(ctx, Permission{
		Name:        name,
		Module:      module,
		Category:    category,
		Action:      action,
		Description: description,
		IsActive:    true,
		Priority:    priority,
	})
}

// UpdatePermission updates a non-system permission.
func (s *Service) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	existing, err := s.repo.GetPermission(ctx, p.ID)
	if err != nil {
		return Permission{}, err
	}
	if existing.IsSystem {
		return Permission{}, fmt.Errorf("%w: permission %q", shared.ErrSystemProtected, existing.Name)
	}
	updated, err := s.repo.UpdatePermission(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// DeletePermission soft-deletes a permission. System permissions and
// permissions still referenced by active grants are protected.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	existing, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return fmt.Errorf("%w: permission %q", shared.ErrSystemProtected, existing.Name)
	}
	count, err := s.grants.GrantsReferencing(ctx, "permissions", id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: permission %d is referenced by %d grants", shared.ErrGrantsExist, id, count)
	}
	if err := s.repo.SoftDeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
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
