package authz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-portal/helios/internal/shared"
)

type fakeGrantRow struct {
	id        int64
	subjectID int64
	targetID  int64
	active    bool
	startsAt  *time.Time
	expiresAt *time.Time
	priority  int
	polarity  Polarity
	inherited bool
	primary   bool
	deleted   bool
}

// fakeGrantDB holds grant rows per table and backs fakeTx, standing in for
// the four grant tables.
type fakeGrantDB struct {
	tables map[string][]*fakeGrantRow
	nextID int64
}

func newFakeGrantDB() *fakeGrantDB {
	return &fakeGrantDB{tables: map[string][]*fakeGrantRow{}, nextID: 1}
}

func (f *fakeGrantDB) live(table string, subjectID, targetID int64) *fakeGrantRow {
	for _, r := range f.tables[table] {
		if r.subjectID == subjectID && r.targetID == targetID && !r.deleted {
			return r
		}
	}
	return nil
}

func (f *fakeGrantDB) liveCount(table string) int {
	var n int
	for _, r := range f.tables[table] {
		if !r.deleted {
			n++
		}
	}
	return n
}

func optTime(v any) *time.Time {
	if p, ok := v.(*time.Time); ok {
		return p
	}
	return nil
}

type scanFunc func(dest ...any) error

func (s scanFunc) Scan(dest ...any) error { return s(dest...) }

// fakeTx implements the three statement shapes the registry issues. The
// embedded interface panics on anything else, which is the point.
type fakeTx struct {
	pgx.Tx
	db *fakeGrantDB
}

func (t fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	fields := strings.Fields(sql)
	switch {
	case strings.HasPrefix(sql, "SELECT id FROM"):
		row := t.db.live(fields[3], args[0].(int64), args[1].(int64))
		return scanFunc(func(dest ...any) error {
			if row == nil {
				return pgx.ErrNoRows
			}
			*dest[0].(*int64) = row.id
			return nil
		})
	case strings.HasPrefix(sql, "INSERT INTO"):
		row := &fakeGrantRow{
			id:        t.db.nextID,
			subjectID: args[0].(int64),
			targetID:  args[1].(int64),
			active:    true,
			startsAt:  optTime(args[2]),
			expiresAt: optTime(args[3]),
			priority:  args[4].(int),
			polarity:  args[5].(Polarity),
			inherited: args[6].(bool),
		}
		t.db.nextID++
		t.db.tables[fields[2]] = append(t.db.tables[fields[2]], row)
		return scanFunc(func(dest ...any) error {
			*dest[0].(*int64) = row.id
			return nil
		})
	case strings.HasPrefix(sql, "UPDATE"):
		// Revoke: soft-delete returning id.
		row := t.db.live(fields[1], args[0].(int64), args[1].(int64))
		return scanFunc(func(dest ...any) error {
			if row == nil {
				return pgx.ErrNoRows
			}
			row.deleted = true
			*dest[0].(*int64) = row.id
			return nil
		})
	}
	return scanFunc(func(...any) error { return pgx.ErrNoRows })
}

func (t fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "SET is_active = TRUE"):
		table := strings.Fields(sql)[1]
		for _, row := range t.db.tables[table] {
			if row.id == args[0].(int64) {
				row.active = true
				row.startsAt = optTime(args[1])
				row.expiresAt = optTime(args[2])
				row.priority = args[3].(int)
				row.polarity = args[4].(Polarity)
				row.inherited = args[5].(bool)
			}
		}
	case strings.Contains(sql, "is_primary = FALSE WHERE subject_id"):
		for _, row := range t.db.tables["user_roles"] {
			if row.subjectID == args[0].(int64) && !row.deleted && row.id != args[1].(int64) {
				row.primary = false
			}
		}
	case strings.Contains(sql, "is_primary = FALSE WHERE id"):
		for _, row := range t.db.tables["user_roles"] {
			if row.id == args[0].(int64) {
				row.primary = false
			}
		}
	case strings.Contains(sql, "is_primary = TRUE WHERE id"):
		for _, row := range t.db.tables["user_roles"] {
			if row.id == args[0].(int64) {
				row.primary = true
			}
		}
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

// fakeRegistryStore satisfies RegistryStore and NodeStore over maps.
type fakeRegistryStore struct {
	users    map[int64]bool
	roles    map[int64]bool
	perms    map[int64]bool
	contents map[int64]bool
	menus    map[int64]Node
}

func newFakeRegistryStore() *fakeRegistryStore {
	return &fakeRegistryStore{
		users:    map[int64]bool{},
		roles:    map[int64]bool{},
		perms:    map[int64]bool{},
		contents: map[int64]bool{},
		menus:    map[int64]Node{},
	}
}

func (s *fakeRegistryStore) SubjectExists(_ context.Context, kind RelationKind, id int64) (bool, error) {
	if kind == KindUserRole {
		return s.users[id], nil
	}
	return s.roles[id], nil
}

func (s *fakeRegistryStore) TargetExists(_ context.Context, kind RelationKind, id int64) (bool, error) {
	switch kind {
	case KindUserRole:
		return s.roles[id], nil
	case KindRolePermission:
		return s.perms[id], nil
	case KindRoleMenu:
		_, ok := s.menus[id]
		return ok, nil
	case KindRoleContent:
		return s.contents[id], nil
	}
	return false, nil
}

func (s *fakeRegistryStore) MenuNode(_ context.Context, id int64) (Node, error) {
	n, ok := s.menus[id]
	if !ok {
		return Node{}, shared.ErrNotFound
	}
	return n, nil
}

func (s *fakeRegistryStore) RoleNode(_ context.Context, _ int64) (Node, error) {
	return Node{}, shared.ErrNotFound
}

type grantConflictCounter struct {
	hits int
}

func (g *grantConflictCounter) ObserveGrantConflict() { g.hits++ }

func newTestRegistry(t *testing.T, store *fakeRegistryStore, dbf *fakeGrantDB) (*Registry, *DecisionCache) {
	t.Helper()
	cache := newTestCache(t)
	r := NewRegistry(nil, store, NewHierarchyValidator(store), cache, nil, nil)
	r.runTx = func(_ context.Context, fn func(pgx.Tx) error) error {
		return fn(fakeTx{db: dbf})
	}
	return r.WithClock(func() time.Time { return baseTime }), cache
}

func permGrantParams(roleID, permID int64) GrantParams {
	return GrantParams{
		Kind:      KindRolePermission,
		SubjectID: roleID,
		TargetID:  permID,
		Polarity:  PolarityGrant,
		ActorID:   7,
	}
}

func TestGrantIdempotentReGrant(t *testing.T) {
	store := newFakeRegistryStore()
	store.roles[10] = true
	store.perms[40] = true
	dbf := newFakeGrantDB()
	reg, _ := newTestRegistry(t, store, dbf)
	ctx := context.Background()

	first, err := reg.Grant(ctx, permGrantParams(10, 40))
	require.NoError(t, err)

	ends := baseTime.Add(time.Hour)
	p := permGrantParams(10, 40)
	p.Priority = 9
	p.Polarity = PolarityDeny
	p.Window = Window{ExpiresAt: &ends}
	second, err := reg.Grant(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-grant rewrites the existing row")
	require.Equal(t, 1, dbf.liveCount("role_permissions"), "exactly one active row per pair")
	row := dbf.live("role_permissions", 10, 40)
	assert.Equal(t, 9, row.priority)
	assert.Equal(t, PolarityDeny, row.polarity)
	require.NotNil(t, row.expiresAt)
	assert.True(t, row.expiresAt.Equal(ends))
}

func TestGrantRejectsMalformedParams(t *testing.T) {
	store := newFakeRegistryStore()
	reg, _ := newTestRegistry(t, store, newFakeGrantDB())
	ctx := context.Background()

	_, err := reg.Grant(ctx, GrantParams{Kind: "role_widget", Polarity: PolarityGrant})
	assert.Error(t, err)

	p := permGrantParams(10, 40)
	p.Polarity = "maybe"
	_, err = reg.Grant(ctx, p)
	assert.Error(t, err)

	starts := baseTime.Add(time.Hour)
	ends := baseTime
	p = permGrantParams(10, 40)
	p.Window = Window{StartsAt: &starts, ExpiresAt: &ends}
	_, err = reg.Grant(ctx, p)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantUnknownSubjectOrTarget(t *testing.T) {
	store := newFakeRegistryStore()
	store.roles[10] = true
	reg, _ := newTestRegistry(t, store, newFakeGrantDB())
	ctx := context.Background()

	_, err := reg.Grant(ctx, permGrantParams(99, 40))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = reg.Grant(ctx, permGrantParams(10, 40))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGrantMenuPlacementGuard(t *testing.T) {
	store := newFakeRegistryStore()
	store.roles[10] = true
	store.menus[1] = Node{ID: 1, Level: 0}
	store.menus[2] = Node{ID: 2, ParentID: idp(1), Level: 1}
	store.menus[3] = Node{ID: 3, ParentID: idp(2), Level: 2}
	store.menus[4] = Node{ID: 4, ParentID: idp(3), Level: 3}
	dbf := newFakeGrantDB()
	reg, _ := newTestRegistry(t, store, dbf)
	ctx := context.Background()

	_, err := reg.Grant(ctx, GrantParams{Kind: KindRoleMenu, SubjectID: 10, TargetID: 3, Polarity: PolarityGrant})
	require.NoError(t, err, "a deepest-level menu is grantable")

	_, err = reg.Grant(ctx, GrantParams{Kind: KindRoleMenu, SubjectID: 10, TargetID: 4, Polarity: PolarityGrant})
	assert.Equal(t, shared.CodeMaxDepthExceeded, structuralCode(t, err))
	assert.Nil(t, dbf.live("role_menus", 10, 4), "no row written for the rejected grant")
}

func TestGrantPrimaryRoleIsExclusive(t *testing.T) {
	store := newFakeRegistryStore()
	store.users[1] = true
	store.roles[10] = true
	store.roles[11] = true
	dbf := newFakeGrantDB()
	reg, _ := newTestRegistry(t, store, dbf)
	ctx := context.Background()

	_, err := reg.Grant(ctx, GrantParams{Kind: KindUserRole, SubjectID: 1, TargetID: 10, Polarity: PolarityGrant, Primary: true})
	require.NoError(t, err)
	_, err = reg.Grant(ctx, GrantParams{Kind: KindUserRole, SubjectID: 1, TargetID: 11, Polarity: PolarityGrant, Primary: true})
	require.NoError(t, err)

	assert.False(t, dbf.live("user_roles", 1, 10).primary)
	assert.True(t, dbf.live("user_roles", 1, 11).primary)
}

func TestGrantBumpsCacheOnlyAfterCommit(t *testing.T) {
	store := newFakeRegistryStore()
	store.roles[10] = true
	store.perms[40] = true
	reg, cache := newTestRegistry(t, store, newFakeGrantDB())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, KindRolePermission, 1, 40, Allow, nil, nil, baseTime))

	// A failed write leaves the cache intact.
	_, err := reg.Grant(ctx, permGrantParams(10, 99))
	require.Error(t, err)
	_, ok := cache.Get(ctx, KindRolePermission, 1, 40, baseTime)
	require.True(t, ok)

	_, err = reg.Grant(ctx, permGrantParams(10, 40))
	require.NoError(t, err)
	_, ok = cache.Get(ctx, KindRolePermission, 1, 40, baseTime)
	assert.False(t, ok, "committed grant orphans prior decisions")
}

func TestRevokeSoftDeletesAndReGrantStartsFresh(t *testing.T) {
	store := newFakeRegistryStore()
	store.roles[10] = true
	store.perms[40] = true
	dbf := newFakeGrantDB()
	reg, _ := newTestRegistry(t, store, dbf)
	ctx := context.Background()

	first, err := reg.Grant(ctx, permGrantParams(10, 40))
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(ctx, KindRolePermission, 10, 40, 7))
	assert.Nil(t, dbf.live("role_permissions", 10, 40))

	err = reg.Revoke(ctx, KindRolePermission, 10, 40, 7)
	assert.ErrorIs(t, err, shared.ErrNotFound, "revoking a revoked pair is a detectable no-op")

	again, err := reg.Grant(ctx, permGrantParams(10, 40))
	require.NoError(t, err)
	assert.NotEqual(t, first, again, "re-grant after revoke inserts a fresh row")
	assert.Equal(t, 1, dbf.liveCount("role_permissions"))
}

func TestMapConflictTranslatesRetryableCodes(t *testing.T) {
	counter := &grantConflictCounter{}
	reg := NewRegistry(nil, newFakeRegistryStore(), nil, NewDecisionCache(nil, time.Minute), nil, nil).
		WithConflictObserver(counter)

	for _, code := range []string{"23505", "40001", "40P01"} {
		err := reg.mapConflict(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, shared.ErrConflict, "code %s", code)
	}
	assert.Equal(t, 3, counter.hits)

	fk := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, error(fk), reg.mapConflict(fk), "other codes pass through")
	plain := errors.New("broken pipe")
	assert.Equal(t, plain, reg.mapConflict(plain))
	assert.Equal(t, 3, counter.hits)
}
