package authz

import (
	"sort"
	"time"
)

// The resolver is a pure function over grant snapshots. It performs no I/O
// and no writes, so concurrent callers need no coordination and results are
// safe to memoize.

// EffectiveRoles returns the role ids a user holds at the given instant:
// user→role grants that are active, not soft-deleted, inside their window,
// and not explicit denials. An empty result fails closed at the caller.
func EffectiveRoles(userRoleGrants []Grant, now time.Time) []int64 {
	var roles []int64
	seen := make(map[int64]struct{}, len(userRoleGrants))
	for _, g := range userRoleGrants {
		if g.Kind != KindUserRole || !g.EffectiveAt(now) || g.Polarity != PolarityGrant {
			continue
		}
		if _, ok := seen[g.TargetID]; ok {
			continue
		}
		seen[g.TargetID] = struct{}{}
		roles = append(roles, g.TargetID)
	}
	return roles
}

// Decide computes ALLOW or DENY from the role→target grants collected across
// a user's effective roles. Absence of any applicable grant is DENY, never an
// implicit allow. Among applicable grants the highest priority wins; on equal
// priority an explicit DENY outranks a GRANT.
func Decide(grants []Grant, now time.Time) Decision {
	winner, ok := Winner(grants, now)
	if !ok {
		return Deny
	}
	if winner.Polarity == PolarityGrant {
		return Allow
	}
	return Deny
}

// Winner returns the highest-ranked applicable grant at the given instant.
// The ordering is total: priority descending, then DENY before GRANT, then
// lowest grant id, so ties never resolve nondeterministically.
func Winner(grants []Grant, now time.Time) (Grant, bool) {
	applicable := grants[:0:0]
	for _, g := range grants {
		if g.EffectiveAt(now) {
			applicable = append(applicable, g)
		}
	}
	if len(applicable) == 0 {
		return Grant{}, false
	}
	sort.Slice(applicable, func(i, j int) bool {
		a, b := applicable[i], applicable[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Polarity != b.Polarity {
			return a.Polarity == PolarityDeny
		}
		return a.ID < b.ID
	})
	return applicable[0], true
}

// StabilityWindow returns the interval around now during which the decision
// over the given grants cannot change due to time alone: the latest window
// boundary at or before now and the earliest boundary after it. Nil means
// unbounded on that side. The decision cache stores these so a cached entry
// is honoured only for instants inside the same interval.
func StabilityWindow(now time.Time, grantSets ...[]Grant) (notBefore, notAfter *time.Time) {
	consider := func(t *time.Time) {
		if t == nil {
			return
		}
		if t.After(now) {
			if notAfter == nil || t.Before(*notAfter) {
				v := *t
				notAfter = &v
			}
			return
		}
		if notBefore == nil || t.After(*notBefore) {
			v := *t
			notBefore = &v
		}
	}
	for _, grants := range grantSets {
		for _, g := range grants {
			consider(g.StartsAt)
			consider(g.ExpiresAt)
		}
	}
	return notBefore, notAfter
}
