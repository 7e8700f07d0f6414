package menus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helios-portal/helios/internal/authz"
	"github.com/helios-portal/helios/internal/shared"
)

// RepositoryPort defines data access methods for menus.
type RepositoryPort interface {
	ListMenus(ctx context.Context) ([]Menu, error)
	GetMenu(ctx context.Context, id int64) (Menu, error)
	CreateMenu(ctx context.Context, m Menu) (Menu, error)
	UpdateMenu(ctx context.Context, m Menu) (Menu, error)
	ChildIDs(ctx context.Context, parentIDs []int64) ([]int64, error)
	Move(ctx context.Context, id int64, parentID *int64, newLevel int, descendantIDs []int64, delta int) error
	SoftDeleteMenu(ctx context.Context, id int64) error
	HasChildren(ctx context.Context, id int64) (bool, error)
}

// GrantCounter reports how many active grants reference an entity.
type GrantCounter interface {
	GrantsReferencing(ctx context.Context, entity string, id int64) (int64, error)
}

// PlacementValidator decides the level a menu would occupy under a parent.
type PlacementValidator interface {
	ValidateMenuPlacement(ctx context.Context, menuID int64, proposedParentID *int64) (int, error)
}

// Invalidator drops memoized authorization decisions after entity mutations.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles menu management logic. Every placement passes through the
// hierarchy validator before any row is written.
type Service struct {
	repo        RepositoryPort
	grants      GrantCounter
	validator   PlacementValidator
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds a Service instance. invalidator may be nil.
func NewService(repo RepositoryPort, grants GrantCounter, validator PlacementValidator, invalidator Invalidator) *Service {
	return &Service{repo: repo, grants: grants, validator: validator, invalidator: invalidator}
}

// WithLogger attaches a logger for invalidation failures.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// ListMenus returns all menus in tree order.
func (s *Service) ListMenus(ctx context.Context) ([]Menu, error) {
	return s.repo.ListMenus(ctx)
}

// GetMenu fetches a menu by id.
func (s *Service) GetMenu(ctx context.Context, id int64) (Menu, error) {
	return s.repo.GetMenu(ctx, id)
}

// CreateMenu inserts a menu under the proposed parent.
func (s *Service) CreateMenu(ctx context.Context, title string, parentID *int64, position int, isActive bool) (Menu, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Menu{}, fmt.Errorf("%w: title required", shared.ErrValidation)
	}
	level, err := s.validator.ValidateMenuPlacement(ctx, 0, parentID)
	if err != nil {
		return Menu{}, err
	}
	m, err := s.repo.CreateMenu(ctx, Menu{
		Slug:     shared.Slugify(title),
		Title:    title,
		ParentID: parentID,
		Level:    level,
		Position: position,
		IsActive: isActive,
	})
	if err != nil {
		return Menu{}, err
	}
	s.invalidate(ctx)
	return m, nil
}

// UpdateMenu updates title, position, and activation in place.
func (s *Service) UpdateMenu(ctx context.Context, id int64, title string, position int, isActive bool) (Menu, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Menu{}, fmt.Errorf("%w: title required", shared.ErrValidation)
	}
	m, err := s.repo.UpdateMenu(ctx, Menu{ID: id, Title: title, Position: position, IsActive: isActive})
	if err != nil {
		return Menu{}, err
	}
	s.invalidate(ctx)
	return m, nil
}

// MoveMenu re-parents a menu. The whole subtree shifts with it, so the move
// is rejected when any descendant would land past the level cap.
func (s *Service) MoveMenu(ctx context.Context, id int64, parentID *int64) (Menu, error) {
	existing, err := s.repo.GetMenu(ctx, id)
	if err != nil {
		return Menu{}, err
	}
	newLevel, err := s.validator.ValidateMenuPlacement(ctx, id, parentID)
	if err != nil {
		return Menu{}, err
	}
	descendants, depth, err := s.descendants(ctx, id)
	if err != nil {
		return Menu{}, err
	}
	if newLevel+depth > authz.MaxMenuLevel {
		return Menu{}, shared.NewStructuralError(shared.CodeMaxDepthExceeded,
			fmt.Sprintf("subtree of menu %d is %d deep, placement at level %d exceeds the cap", id, depth, newLevel))
	}
	if err := s.repo.Move(ctx, id, parentID, newLevel, descendants, newLevel-existing.Level); err != nil {
		return Menu{}, err
	}
	s.invalidate(ctx)
	return s.repo.GetMenu(ctx, id)
}

// DeleteMenu soft-deletes a leaf menu with no active grants.
func (s *Service) DeleteMenu(ctx context.Context, id int64) error {
	hasChildren, err := s.repo.HasChildren(ctx, id)
	if err != nil {
		return err
	}
	if hasChildren {
		return fmt.Errorf("%w: menu %d still has children", shared.ErrValidation, id)
	}
	count, err := s.grants.GrantsReferencing(ctx, "menus", id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: menu %d is referenced by %d grants", shared.ErrGrantsExist, id, count)
	}
	if err := s.repo.SoftDeleteMenu(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// descendants walks the subtree breadth-first, level by level, and returns
// every descendant id plus the subtree depth below the node. The walk is
// bounded by the level cap; the visited set guards corrupted data.
func (s *Service) descendants(ctx context.Context, id int64) ([]int64, int, error) {
	visited := map[int64]struct{}{id: {}}
	frontier := []int64{id}
	var all []int64
	depth := 0
	for len(frontier) > 0 && depth <= authz.MaxMenuLevel {
		children, err := s.repo.ChildIDs(ctx, frontier)
		if err != nil {
			return nil, 0, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			all = append(all, child)
			frontier = append(frontier, child)
		}
		if len(frontier) > 0 {
			depth++
		}
	}
	return all, depth, nil
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
