// Package authz implements the access-control core: grant storage, the
// resolution algorithm turning time-boxed role grants into ALLOW/DENY
// decisions, hierarchy validation, and the decision cache.
package authz

import "time"

// Decision is the outcome of a resolution.
type Decision int

const (
	// Deny blocks access. The zero value is Deny so an uninitialised
	// decision can never allow.
	Deny Decision = iota
	// Allow grants access.
	Allow
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	if d == Allow {
		return "ALLOW"
	}
	return "DENY"
}

// Polarity states whether a grant expresses an explicit allow or an explicit block.
type Polarity string

const (
	// PolarityGrant expresses allow.
	PolarityGrant Polarity = "grant"
	// PolarityDeny expresses an explicit block.
	PolarityDeny Polarity = "deny"
)

// RelationKind selects which grant relation a lookup or mutation targets.
// It is a closed enum; a kind outside these constants is a programming error,
// not a runtime DENY.
type RelationKind string

const (
	// KindUserRole relates a user to a role.
	KindUserRole RelationKind = "user_role"
	// KindRolePermission relates a role to a permission.
	KindRolePermission RelationKind = "role_permission"
	// KindRoleMenu relates a role to a menu node.
	KindRoleMenu RelationKind = "role_menu"
	// KindRoleContent relates a role to a content item.
	KindRoleContent RelationKind = "role_content"
)

// Valid reports whether k is one of the four defined relations.
func (k RelationKind) Valid() bool {
	switch k {
	case KindUserRole, KindRolePermission, KindRoleMenu, KindRoleContent:
		return true
	}
	return false
}

// Grant is a first-class record of a subject being given or denied a target
// capability. One struct backs all four relations; Primary is meaningful only
// for user→role rows.
type Grant struct {
	ID        int64
	Kind      RelationKind
	SubjectID int64
	TargetID  int64
	Active    bool
	StartsAt  *time.Time
	ExpiresAt *time.Time
	Priority  int
	Polarity  Polarity
	Inherited bool
	Primary   bool
	DeletedAt *time.Time
	CreatedBy int64
	UpdatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveAt reports whether the grant contributes to a decision at the
// given instant: administratively active, not soft-deleted, and inside its
// validity window. A nil bound is open on that side.
func (g Grant) EffectiveAt(now time.Time) bool {
	if !g.Active || g.DeletedAt != nil {
		return false
	}
	if g.StartsAt != nil && now.Before(*g.StartsAt) {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	return true
}

// Window bounds a grant's validity. Both nil means always valid once active.
type Window struct {
	StartsAt  *time.Time
	ExpiresAt *time.Time
}

// Source describes the grant that decided an authorization outcome, exposed
// on menu-tree nodes so callers can show where visibility came from.
type Source struct {
	GrantID  int64
	RoleID   int64
	Priority int
	Polarity Polarity
}
