package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func grant(id int64, priority int, polarity Polarity) Grant {
	return Grant{ID: id, Kind: KindRolePermission, Active: true, Priority: priority, Polarity: polarity}
}

func TestDecideDefaultDeny(t *testing.T) {
	assert.Equal(t, Deny, Decide(nil, baseTime))
	assert.Equal(t, Deny, Decide([]Grant{}, baseTime))
}

func TestDecideSingleGrant(t *testing.T) {
	assert.Equal(t, Allow, Decide([]Grant{grant(1, 0, PolarityGrant)}, baseTime))
	assert.Equal(t, Deny, Decide([]Grant{grant(1, 0, PolarityDeny)}, baseTime))
}

func TestDecideHighestPriorityWins(t *testing.T) {
	grants := []Grant{
		grant(1, 10, PolarityDeny),
		grant(2, 50, PolarityGrant),
		grant(3, 30, PolarityDeny),
	}
	assert.Equal(t, Allow, Decide(grants, baseTime))

	grants = append(grants, grant(4, 60, PolarityDeny))
	assert.Equal(t, Deny, Decide(grants, baseTime))
}

func TestDecideDenyWinsOnEqualPriority(t *testing.T) {
	grants := []Grant{
		grant(1, 10, PolarityGrant),
		grant(2, 10, PolarityDeny),
	}
	assert.Equal(t, Deny, Decide(grants, baseTime))

	// Order must not matter.
	grants[0], grants[1] = grants[1], grants[0]
	assert.Equal(t, Deny, Decide(grants, baseTime))
}

func TestDecideIgnoresInapplicableGrants(t *testing.T) {
	expired := grant(1, 100, PolarityDeny)
	expired.ExpiresAt = tp(baseTime.Add(-time.Hour))
	future := grant(2, 100, PolarityDeny)
	future.StartsAt = tp(baseTime.Add(time.Hour))
	inactive := grant(3, 100, PolarityDeny)
	inactive.Active = false
	deleted := grant(4, 100, PolarityDeny)
	deleted.DeletedAt = tp(baseTime.Add(-time.Minute))

	grants := []Grant{expired, future, inactive, deleted, grant(5, 1, PolarityGrant)}
	assert.Equal(t, Allow, Decide(grants, baseTime))
}

func TestDecideWindowBoundsAreHalfOpen(t *testing.T) {
	g := grant(1, 0, PolarityGrant)
	g.StartsAt = tp(baseTime)
	g.ExpiresAt = tp(baseTime.Add(time.Hour))

	assert.True(t, g.EffectiveAt(baseTime), "starts_at is inclusive")
	assert.True(t, g.EffectiveAt(baseTime.Add(time.Hour-time.Nanosecond)))
	assert.False(t, g.EffectiveAt(baseTime.Add(time.Hour)), "expires_at is exclusive")
	assert.False(t, g.EffectiveAt(baseTime.Add(-time.Nanosecond)))
}

func TestWinnerTieBreakIsDeterministic(t *testing.T) {
	grants := []Grant{
		grant(7, 10, PolarityGrant),
		grant(3, 10, PolarityGrant),
	}
	w, ok := Winner(grants, baseTime)
	require.True(t, ok)
	assert.Equal(t, int64(3), w.ID, "lowest id wins among equal grants")
}

func TestWinnerDoesNotMutateInput(t *testing.T) {
	grants := []Grant{
		grant(2, 1, PolarityGrant),
		grant(1, 5, PolarityDeny),
	}
	_, ok := Winner(grants, baseTime)
	require.True(t, ok)
	assert.Equal(t, int64(2), grants[0].ID)
	assert.Equal(t, int64(1), grants[1].ID)
}

func TestEffectiveRolesFiltersAndDedupes(t *testing.T) {
	userRole := func(id, roleID int64, polarity Polarity) Grant {
		return Grant{ID: id, Kind: KindUserRole, TargetID: roleID, Active: true, Polarity: polarity}
	}
	expired := userRole(3, 30, PolarityGrant)
	expired.ExpiresAt = tp(baseTime.Add(-time.Minute))

	grants := []Grant{
		userRole(1, 10, PolarityGrant),
		userRole(2, 20, PolarityDeny),
		expired,
		userRole(4, 10, PolarityGrant),
	}
	roles := EffectiveRoles(grants, baseTime)
	assert.Equal(t, []int64{10}, roles)
}

func TestEffectiveRolesEmptyMeansDeny(t *testing.T) {
	roles := EffectiveRoles(nil, baseTime)
	assert.Empty(t, roles)
	assert.Equal(t, Deny, Decide(nil, baseTime))
}

func TestStabilityWindowBracketsNow(t *testing.T) {
	past := baseTime.Add(-2 * time.Hour)
	nearPast := baseTime.Add(-time.Hour)
	nearFuture := baseTime.Add(30 * time.Minute)
	future := baseTime.Add(2 * time.Hour)

	g1 := grant(1, 0, PolarityGrant)
	g1.StartsAt = tp(past)
	g1.ExpiresAt = tp(future)
	g2 := grant(2, 0, PolarityDeny)
	g2.StartsAt = tp(nearPast)
	g2.ExpiresAt = tp(nearFuture)

	nb, na := StabilityWindow(baseTime, []Grant{g1}, []Grant{g2})
	require.NotNil(t, nb)
	require.NotNil(t, na)
	assert.Equal(t, nearPast, *nb)
	assert.Equal(t, nearFuture, *na)
}

func TestStabilityWindowUnboundedWithoutWindows(t *testing.T) {
	nb, na := StabilityWindow(baseTime, []Grant{grant(1, 0, PolarityGrant)})
	assert.Nil(t, nb)
	assert.Nil(t, na)
}

// Windowed deny: during the deny window the deny outranks the standing grant,
// before and after it the grant wins.
func TestDecideTemporaryDenyWindow(t *testing.T) {
	standing := grant(1, 10, PolarityGrant)
	suspension := grant(2, 50, PolarityDeny)
	suspension.StartsAt = tp(baseTime.Add(-time.Hour))
	suspension.ExpiresAt = tp(baseTime.Add(time.Hour))
	grants := []Grant{standing, suspension}

	assert.Equal(t, Allow, Decide(grants, baseTime.Add(-2*time.Hour)))
	assert.Equal(t, Deny, Decide(grants, baseTime))
	assert.Equal(t, Allow, Decide(grants, baseTime.Add(2*time.Hour)))
}
