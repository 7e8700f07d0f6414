package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/helios-portal/helios/internal/shared"
)

// DecisionEvent is reported to the audit emitter for every resolution.
type DecisionEvent struct {
	Decision  Decision
	Kind      RelationKind
	SubjectID int64
	TargetID  int64
	At        time.Time
}

// DecisionEmitter receives resolution outcomes, fire-and-forget. It must
// never block; slow sinks drop or buffer on their side.
type DecisionEmitter interface {
	DecisionRecorded(ctx context.Context, ev DecisionEvent)
}

// DecisionMetrics records decision outcomes and cache effectiveness.
type DecisionMetrics interface {
	ObserveDecision(kind, outcome string, cacheHit bool)
}

// ContentStatusPublished is the only content status reachable by readers.
const ContentStatusPublished = "published"

// ResolverStore defines the reads resolution depends on. *Repository is the
// production implementation; tests substitute map-backed fakes.
type ResolverStore interface {
	UserActive(ctx context.Context, userID int64) (bool, error)
	UserRoleGrants(ctx context.Context, userID int64) ([]Grant, error)
	ActiveRoles(ctx context.Context, roleIDs []int64) ([]int64, error)
	RoleGrants(ctx context.Context, kind RelationKind, roleIDs []int64, targetID int64) ([]Grant, error)
	RoleGrantsAll(ctx context.Context, kind RelationKind, roleIDs []int64) (map[int64][]Grant, error)
	TargetExists(ctx context.Context, kind RelationKind, targetID int64) (bool, error)
	PermissionIDByName(ctx context.Context, name string) (int64, error)
	ContentByID(ctx context.Context, id int64) (ContentInfo, error)
	ActiveMenus(ctx context.Context) ([]MenuItem, error)
}

// Service is the facade collaborators consume: permission checks, menu tree
// resolution, content access, and grant administration.
type Service struct {
	repo     ResolverStore
	cache    *DecisionCache
	registry *Registry
	emitter  DecisionEmitter
	metrics  DecisionMetrics
	logger   *slog.Logger
	flight   singleflight.Group
	now      func() time.Time
}

// ServiceParams groups Service dependencies. Emitter and Metrics may be nil.
type ServiceParams struct {
	Repo     ResolverStore
	Cache    *DecisionCache
	Registry *Registry
	Emitter  DecisionEmitter
	Metrics  DecisionMetrics
	Logger   *slog.Logger
}

// NewService constructs the facade.
func NewService(p ServiceParams) *Service {
	return &Service{
		repo:     p.Repo,
		cache:    p.Cache,
		registry: p.Registry,
		emitter:  p.Emitter,
		metrics:  p.Metrics,
		logger:   p.Logger,
		now:      time.Now,
	}
}

// WithClock overrides the service clock, for tests and backdated audit replay.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// at normalizes an optional evaluation instant: zero means wall clock.
func (s *Service) at(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// Can reports whether the user holds the named permission at the given
// instant. An unknown or inactive permission name is DENY, not an error.
func (s *Service) Can(ctx context.Context, userID int64, permission string, at time.Time) (bool, error) {
	now := s.at(at)
	permID, err := s.repo.PermissionIDByName(ctx, permission)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.report(ctx, KindRolePermission, userID, 0, Deny, now, false)
			return false, nil
		}
		return false, err
	}
	d, err := s.decide(ctx, KindRolePermission, userID, permID, now)
	if err != nil {
		return false, err
	}
	return d == Allow, nil
}

// CanAccessContent reports whether the user may read the content item at the
// given instant. Public content short-circuits grant evaluation entirely, but
// only while the item is published and inside its publish window. Missing or
// soft-deleted content is DENY, never an error.
func (s *Service) CanAccessContent(ctx context.Context, userID, contentID int64, at time.Time) (bool, error) {
	now := s.at(at)
	c, err := s.repo.ContentByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.report(ctx, KindRoleContent, userID, contentID, Deny, now, false)
			return false, nil
		}
		return false, err
	}
	if !contentAvailable(c, now) {
		s.report(ctx, KindRoleContent, userID, contentID, Deny, now, false)
		return false, nil
	}
	if c.Public {
		s.report(ctx, KindRoleContent, userID, contentID, Allow, now, false)
		return true, nil
	}
	d, err := s.decide(ctx, KindRoleContent, userID, contentID, now)
	if err != nil {
		return false, err
	}
	return d == Allow, nil
}

func contentAvailable(c ContentInfo, now time.Time) bool {
	if c.Status != ContentStatusPublished {
		return false
	}
	if c.PublishedAt != nil && now.Before(*c.PublishedAt) {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// MenuNodeView is a menu tree node annotated with the grant that allowed it.
type MenuNodeView struct {
	ID       int64           `json:"id"`
	Slug     string          `json:"slug"`
	Title    string          `json:"title"`
	Level    int             `json:"level"`
	Position int             `json:"position"`
	Source   Source          `json:"source"`
	Children []*MenuNodeView `json:"children,omitempty"`
}

// VisibleMenuTree returns the ordered forest of menu nodes the user may see
// at the given instant. A node appears only when a grant allows it and every
// ancestor up to its root is also visible.
func (s *Service) VisibleMenuTree(ctx context.Context, userID int64, at time.Time) ([]*MenuNodeView, error) {
	now := s.at(at)
	roles, _, err := s.effectiveRoles(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, nil
	}
	menus, err := s.repo.ActiveMenus(ctx)
	if err != nil {
		return nil, err
	}
	byTarget, err := s.repo.RoleGrantsAll(ctx, KindRoleMenu, roles)
	if err != nil {
		return nil, err
	}

	visible := make(map[int64]*MenuNodeView, len(menus))
	var forest []*MenuNodeView
	// Menus arrive ordered by level, so parents are always placed first.
	for _, m := range menus {
		winner, ok := Winner(byTarget[m.ID], now)
		if !ok || winner.Polarity != PolarityGrant {
			continue
		}
		node := &MenuNodeView{
			ID:       m.ID,
			Slug:     m.Slug,
			Title:    m.Title,
			Level:    m.Level,
			Position: m.Position,
			Source: Source{
				GrantID:  winner.ID,
				RoleID:   winner.SubjectID,
				Priority: winner.Priority,
				Polarity: winner.Polarity,
			},
		}
		if m.ParentID == nil {
			visible[m.ID] = node
			forest = append(forest, node)
			continue
		}
		parent, ok := visible[*m.ParentID]
		if !ok {
			continue
		}
		visible[m.ID] = node
		parent.Children = append(parent.Children, node)
	}
	return forest, nil
}

// AssignRole grants a role to a user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, window Window, priority int, primary bool, actorID int64) (int64, error) {
	return s.registry.Grant(ctx, GrantParams{
		Kind:      KindUserRole,
		SubjectID: userID,
		TargetID:  roleID,
		Window:    window,
		Priority:  priority,
		Polarity:  PolarityGrant,
		Primary:   primary,
		ActorID:   actorID,
	})
}

// RevokeRole removes a user's role assignment.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID, actorID int64) error {
	return s.registry.Revoke(ctx, KindUserRole, userID, roleID, actorID)
}

// GrantPermission grants or denies a permission to a role.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64, window Window, priority int, polarity Polarity, actorID int64) (int64, error) {
	return s.registry.Grant(ctx, GrantParams{
		Kind:      KindRolePermission,
		SubjectID: roleID,
		TargetID:  permissionID,
		Window:    window,
		Priority:  priority,
		Polarity:  polarity,
		ActorID:   actorID,
	})
}

// RevokePermission removes a role's permission grant.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID, actorID int64) error {
	return s.registry.Revoke(ctx, KindRolePermission, roleID, permissionID, actorID)
}

// GrantMenu grants or denies a menu node to a role.
func (s *Service) GrantMenu(ctx context.Context, roleID, menuID int64, window Window, priority int, polarity Polarity, actorID int64) (int64, error) {
	return s.registry.Grant(ctx, GrantParams{
		Kind:      KindRoleMenu,
		SubjectID: roleID,
		TargetID:  menuID,
		Window:    window,
		Priority:  priority,
		Polarity:  polarity,
		ActorID:   actorID,
	})
}

// RevokeMenu removes a role's menu grant.
func (s *Service) RevokeMenu(ctx context.Context, roleID, menuID, actorID int64) error {
	return s.registry.Revoke(ctx, KindRoleMenu, roleID, menuID, actorID)
}

// GrantContent grants or denies a content item to a role.
func (s *Service) GrantContent(ctx context.Context, roleID, contentID int64, window Window, priority int, polarity Polarity, actorID int64) (int64, error) {
	return s.registry.Grant(ctx, GrantParams{
		Kind:      KindRoleContent,
		SubjectID: roleID,
		TargetID:  contentID,
		Window:    window,
		Priority:  priority,
		Polarity:  polarity,
		ActorID:   actorID,
	})
}

// RevokeContent removes a role's content grant.
func (s *Service) RevokeContent(ctx context.Context, roleID, contentID, actorID int64) error {
	return s.registry.Revoke(ctx, KindRoleContent, roleID, contentID, actorID)
}

// effectiveRoles loads and filters the user's role grants. A role that was
// deactivated or soft-deleted confers nothing even while its assignment rows
// survive. It also returns the raw grants so callers can fold their window
// boundaries into cache stability intervals.
func (s *Service) effectiveRoles(ctx context.Context, userID int64, now time.Time) ([]int64, []Grant, error) {
	active, err := s.repo.UserActive(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !active {
		return nil, nil, nil
	}
	grants, err := s.repo.UserRoleGrants(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	roles := EffectiveRoles(grants, now)
	if len(roles) == 0 {
		return nil, grants, nil
	}
	roles, err = s.repo.ActiveRoles(ctx, roles)
	if err != nil {
		return nil, nil, err
	}
	return roles, grants, nil
}

// decide resolves one (kind, subject, target) triple through the cache.
func (s *Service) decide(ctx context.Context, kind RelationKind, userID, targetID int64, now time.Time) (Decision, error) {
	if d, ok := s.cache.Get(ctx, kind, userID, targetID, now); ok {
		s.report(ctx, kind, userID, targetID, d, now, true)
		return d, nil
	}

	// Collapse concurrent recomputes of the same triple. The key carries the
	// evaluation second so backdated replays do not piggyback on live traffic.
	key := fmt.Sprintf("%s:%d:%d:%d", kind, userID, targetID, now.Unix())
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.compute(ctx, kind, userID, targetID, now)
	})
	if err != nil {
		return Deny, err
	}
	d := v.(Decision)
	s.report(ctx, kind, userID, targetID, d, now, false)
	return d, nil
}

// compute runs the resolution algorithm and stores the result with its
// stability interval.
func (s *Service) compute(ctx context.Context, kind RelationKind, userID, targetID int64, now time.Time) (Decision, error) {
	roles, roleGrants, err := s.effectiveRoles(ctx, userID, now)
	if err != nil {
		return Deny, err
	}
	if len(roles) == 0 {
		nb, na := StabilityWindow(now, roleGrants)
		s.cachePut(ctx, kind, userID, targetID, Deny, nb, na, now)
		return Deny, nil
	}

	exists, err := s.repo.TargetExists(ctx, kind, targetID)
	if err != nil {
		return Deny, err
	}
	if !exists {
		// Unknown or soft-deleted target resolves to DENY, never an error.
		nb, na := StabilityWindow(now, roleGrants)
		s.cachePut(ctx, kind, userID, targetID, Deny, nb, na, now)
		return Deny, nil
	}

	grants, err := s.repo.RoleGrants(ctx, kind, roles, targetID)
	if err != nil {
		return Deny, err
	}
	d := Decide(grants, now)
	nb, na := StabilityWindow(now, roleGrants, grants)
	s.cachePut(ctx, kind, userID, targetID, d, nb, na, now)
	return d, nil
}

func (s *Service) cachePut(ctx context.Context, kind RelationKind, userID, targetID int64, d Decision, nb, na *time.Time, now time.Time) {
	if err := s.cache.Put(ctx, kind, userID, targetID, d, nb, na, now); err != nil && s.logger != nil {
		s.logger.Warn("authz cache put", slog.Any("error", err))
	}
}

// report fans the decision out to metrics and audit without ever blocking
// resolution.
func (s *Service) report(ctx context.Context, kind RelationKind, subjectID, targetID int64, d Decision, now time.Time, cached bool) {
	if s.metrics != nil {
		s.metrics.ObserveDecision(string(kind), d.String(), cached)
	}
	if s.emitter != nil {
		s.emitter.DecisionRecorded(ctx, DecisionEvent{
			Decision:  d,
			Kind:      kind,
			SubjectID: subjectID,
			TargetID:  targetID,
			At:        now,
		})
	}
}
