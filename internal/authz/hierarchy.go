package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/helios-portal/helios/internal/shared"
)

// MaxMenuLevel caps the menu tree at three levels (0, 1, 2).
const MaxMenuLevel = 2

// Node is the minimal view of a hierarchical entity the validator walks.
type Node struct {
	ID       int64
	ParentID *int64
	Level    int
}

// NodeStore resolves hierarchy nodes by id. Implementations must exclude
// soft-deleted rows and return shared.ErrNotFound for anything else missing.
type NodeStore interface {
	MenuNode(ctx context.Context, id int64) (Node, error)
	RoleNode(ctx context.Context, id int64) (Node, error)
}

// HierarchyValidator enforces structural invariants on menu and role parent
// references before a write reaches storage.
type HierarchyValidator struct {
	store NodeStore
}

// NewHierarchyValidator constructs a validator over the given store.
func NewHierarchyValidator(store NodeStore) *HierarchyValidator {
	return &HierarchyValidator{store: store}
}

// ValidateMenuPlacement checks that placing menuID under proposedParentID
// keeps the tree within three levels and acyclic. It returns the level the
// menu would occupy. menuID is zero for a node not yet created.
func (v *HierarchyValidator) ValidateMenuPlacement(ctx context.Context, menuID int64, proposedParentID *int64) (int, error) {
	if proposedParentID == nil {
		return 0, nil
	}
	parent, err := v.store.MenuNode(ctx, *proposedParentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, shared.NewStructuralError(shared.CodeParentNotFound, fmt.Sprintf("menu %d does not exist", *proposedParentID))
		}
		return 0, err
	}
	if parent.Level >= MaxMenuLevel {
		return 0, shared.NewStructuralError(shared.CodeMaxDepthExceeded, fmt.Sprintf("menu %d is at level %d, children would exceed the cap", parent.ID, parent.Level))
	}
	if menuID != 0 {
		if err := v.walk(ctx, parent, menuID, v.store.MenuNode); err != nil {
			return 0, err
		}
	}
	return parent.Level + 1, nil
}

// ValidateRoleParent checks that pointing roleID at proposedParentID keeps
// the role hierarchy acyclic. Roles have no depth cap.
func (v *HierarchyValidator) ValidateRoleParent(ctx context.Context, roleID int64, proposedParentID *int64) error {
	if proposedParentID == nil {
		return nil
	}
	parent, err := v.store.RoleNode(ctx, *proposedParentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewStructuralError(shared.CodeParentNotFound, fmt.Sprintf("role %d does not exist", *proposedParentID))
		}
		return err
	}
	return v.walk(ctx, parent, roleID, v.store.RoleNode)
}

// walk follows parent references iteratively from start, rejecting if it
// reaches forbidden. The visited set guards against pre-existing corruption;
// traversal never recurses and never loops.
func (v *HierarchyValidator) walk(ctx context.Context, start Node, forbidden int64, lookup func(context.Context, int64) (Node, error)) error {
	visited := map[int64]struct{}{}
	node := start
	for {
		if node.ID == forbidden {
			return shared.NewStructuralError(shared.CodeCycleDetected, fmt.Sprintf("placement would create a cycle through %d", forbidden))
		}
		if _, ok := visited[node.ID]; ok {
			return shared.NewStructuralError(shared.CodeCycleDetected, fmt.Sprintf("existing hierarchy already cycles at %d", node.ID))
		}
		visited[node.ID] = struct{}{}
		if node.ParentID == nil {
			return nil
		}
		parent, err := lookup(ctx, *node.ParentID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			return err
		}
		node = parent
	}
}
