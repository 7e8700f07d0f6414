package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/helios-portal/helios/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, email, name, passwordHash string) (User, error)
	UpdateUser(ctx context.Context, id int64, name string, isActive bool) (User, error)
	SoftDeleteUser(ctx context.Context, id int64) error
}

// GrantCounter reports how many active grants reference an entity.
type GrantCounter interface {
	GrantsReferencing(ctx context.Context, entity string, id int64) (int64, error)
}

// Invalidator drops memoized authorization decisions after entity mutations.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles user management logic.
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

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser inserts a user with a bcrypt-hashed credential.
func (s *Service) CreateUser(ctx context.Context, email, name, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return User{}, fmt.Errorf("%w: email and name required", shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, email, name, string(hash))
}

// UpdateUser updates name and activation status.
func (s *Service) UpdateUser(ctx context.Context, id int64, name string, isActive bool) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name required", shared.ErrValidation)
	}
	u, err := s.repo.UpdateUser(ctx, id, name, isActive)
	if err != nil {
		return User{}, err
	}
	// Activation changes alter the effective role set.
	s.invalidate(ctx)
	return u, nil
}

// DeleteUser soft-deletes a user. A user still holding active role grants is
// protected; callers must revoke those grants first.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	count, err := s.grants.GrantsReferencing(ctx, "users", id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: user %d holds %d role grants", shared.ErrGrantsExist, id, count)
	}
	if err := s.repo.SoftDeleteUser(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}
