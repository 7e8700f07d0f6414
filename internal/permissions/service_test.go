package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-portal/helios/internal/shared"
)

type mockRepo struct {
	perms  map[int64]*Permission
	byName map[string]*Permission
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{perms: make(map[int64]*Permission), byName: make(map[string]*Permission), nextID: 1}
}

func (m *mockRepo) add(p Permission) *Permission {
	p.ID = m.nextID
	m.nextID++
	m.perms[p.ID] = &p
	m.byName[p.Name] = m.perms[p.ID]
	return m.perms[p.ID]
}

func (m *mockRepo) ListPermissions(_ context.Context) ([]Permission, error) {
	var out []Permission
	for _, p := range m.perms {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockRepo) GetPermission(_ context.Context, id int64) (Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return *p, nil
}

func (m *mockRepo) UpsertPermission(_ context.Context, p Permission) (Permission, error) {
	if existing, ok := m.byName[p.Name]; ok {
		existing.Module = p.Module
		existing.Category = p.Category
		existing.Action = p.Action
		existing.Description = p.Description
		return *existing, nil
	}
	return *m.add(p), nil
}

func (m *mockRepo) UpdatePermission(_ context.Context, p Permission) (Permission, error) {
	existing, ok := m.perms[p.ID]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	existing.Description = p.Description
	existing.IsActive = p.IsActive
	existing.Priority = p.Priority
	return *existing, nil
}

func (m *mockRepo) SoftDeletePermission(_ context.Context, id int64) error {
	p, ok := m.perms[id]
	if !ok {
		return shared.ErrNotFound
	}
	delete(m.byName, p.Name)
	delete(m.perms, id)
	return nil
}

type mockCounter struct {
	counts map[int64]int64
}

func (m *mockCounter) GrantsReferencing(_ context.Context, _ string, id int64) (int64, error) {
	return m.counts[id], nil
}

func TestEnsurePermissionParsesName(t *testing.T) {
	svc := NewService(newMockRepo(), &mockCounter{}, nil)
	p, err := svc.EnsurePermission(context.Background(), " Content.View ", "reading", "View content", 0)
	require.NoError(t, err)
	assert.Equal(t, "content.view", p.Name)
	assert.Equal(t, "content", p.Module)
	assert.Equal(t, "view", p.Action)
	assert.True(t, p.IsActive)
}

func TestEnsurePermissionNestedModule(t *testing.T) {
	svc := NewService(newMockRepo(), &mockCounter{}, nil)
	p, err := svc.EnsurePermission(context.Background(), "reports.usage.export", "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "reports", p.Module)
	assert.Equal(t, "usage.export", p.Action)
}

func TestEnsurePermissionRejectsBareName(t *testing.T) {
	svc := NewService(newMockRepo(), &mockCounter{}, nil)
	for _, name := range []string{"", "view", "content.", ".view"} {
		_, err := svc.EnsurePermission(context.Background(), name, "", "", 0)
		assert.ErrorIs(t, err, shared.ErrValidation, "name %q", name)
	}
}

func TestEnsurePermissionIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, &mockCounter{}, nil)
	ctx := context.Background()

	first, err := svc.EnsurePermission(ctx, "content.view", "", "old", 0)
	require.NoError(t, err)
	second, err := svc.EnsurePermission(ctx, "content.view", "", "new", 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new", second.Description)
}

func TestUpdatePermissionSystemProtected(t *testing.T) {
	repo := newMockRepo()
	system := repo.add(Permission{Name: "grants.edit", IsSystem: true})
	svc := NewService(repo, &mockCounter{}, nil)

	_, err := svc.UpdatePermission(context.Background(), Permission{ID: system.ID})
	assert.ErrorIs(t, err, shared.ErrSystemProtected)
}

func TestDeletePermissionProtections(t *testing.T) {
	repo := newMockRepo()
	system := repo.add(Permission{Name: "grants.edit", IsSystem: true})
	granted := repo.add(Permission{Name: "content.view"})
	free := repo.add(Permission{Name: "legacy.export"})
	counter := &mockCounter{counts: map[int64]int64{granted.ID: 1}}
	svc := NewService(repo, counter, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeletePermission(ctx, system.ID), shared.ErrSystemProtected)
	assert.ErrorIs(t, svc.DeletePermission(ctx, granted.ID), shared.ErrGrantsExist)
	require.NoError(t, svc.DeletePermission(ctx, free.ID))
	_, err := svc.GetPermission(ctx, free.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
