package menus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-portal/helios/internal/shared"
)

type mockRepo struct {
	menus  map[int64]*Menu
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{menus: make(map[int64]*Menu), nextID: 1}
}

func (m *mockRepo) add(parentID *int64, level int) *Menu {
	menu := &Menu{ID: m.nextID, Slug: fmt.Sprintf("menu-%d", m.nextID), Title: "Menu", ParentID: parentID, Level: level, IsActive: true}
	m.menus[menu.ID] = menu
	m.nextID++
	return menu
}

func (m *mockRepo) ListMenus(_ context.Context) ([]Menu, error) {
	var out []Menu
	for _, menu := range m.menus {
		out = append(out, *menu)
	}
	return out, nil
}

func (m *mockRepo) GetMenu(_ context.Context, id int64) (Menu, error) {
	menu, ok := m.menus[id]
	if !ok {
		return Menu{}, shared.ErrNotFound
	}
	return *menu, nil
}

func (m *mockRepo) CreateMenu(_ context.Context, menu Menu) (Menu, error) {
	menu.ID = m.nextID
	m.nextID++
	m.menus[menu.ID] = &menu
	return menu, nil
}

func (m *mockRepo) UpdateMenu(_ context.Context, menu Menu) (Menu, error) {
	existing, ok := m.menus[menu.ID]
	if !ok {
		return Menu{}, shared.ErrNotFound
	}
	existing.Title = menu.Title
	existing.Position = menu.Position
	existing.IsActive = menu.IsActive
	return *existing, nil
}

func (m *mockRepo) ChildIDs(_ context.Context, parentIDs []int64) ([]int64, error) {
	parents := make(map[int64]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var out []int64
	for _, menu := range m.menus {
		if menu.ParentID == nil {
			continue
		}
		if _, ok := parents[*menu.ParentID]; ok {
			out = append(out, menu.ID)
		}
	}
	return out, nil
}

func (m *mockRepo) Move(_ context.Context, id int64, parentID *int64, newLevel int, descendantIDs []int64, delta int) error {
	menu, ok := m.menus[id]
	if !ok {
		return shared.ErrNotFound
	}
	menu.ParentID = parentID
	menu.Level = newLevel
	for _, d := range descendantIDs {
		m.menus[d].Level += delta
	}
	return nil
}

func (m *mockRepo) SoftDeleteMenu(_ context.Context, id int64) error {
	if _, ok := m.menus[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.menus, id)
	return nil
}

func (m *mockRepo) HasChildren(_ context.Context, id int64) (bool, error) {
	for _, menu := range m.menus {
		if menu.ParentID != nil && *menu.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

// mockValidator mirrors the production depth rules over the mock repo.
type mockValidator struct {
	repo *mockRepo
}

func (v *mockValidator) ValidateMenuPlacement(_ context.Context, menuID int64, parentID *int64) (int, error) {
	if parentID == nil {
		return 0, nil
	}
	parent, ok := v.repo.menus[*parentID]
	if !ok {
		return 0, shared.NewStructuralError(shared.CodeParentNotFound, "parent missing")
	}
	if parent.Level >= 2 {
		return 0, shared.NewStructuralError(shared.CodeMaxDepthExceeded, "too deep")
	}
	node := parent
	for node != nil {
		if node.ID == menuID {
			return 0, shared.NewStructuralError(shared.CodeCycleDetected, "cycle")
		}
		if node.ParentID == nil {
			break
		}
		node = v.repo.menus[*node.ParentID]
	}
	return parent.Level + 1, nil
}

type mockCounter struct {
	counts map[int64]int64
}

func (m *mockCounter) GrantsReferencing(_ context.Context, _ string, id int64) (int64, error) {
	return m.counts[id], nil
}

type bumpSpy struct {
	bumps int
}

func (b *bumpSpy) Bump(_ context.Context) error {
	b.bumps++
	return nil
}

func newTestService(repo *mockRepo, counter *mockCounter) (*Service, *bumpSpy) {
	spy := &bumpSpy{}
	return NewService(repo, counter, &mockValidator{repo: repo}, spy), spy
}

func idp(v int64) *int64 { return &v }

func TestCreateMenuSlugsTitle(t *testing.T) {
	svc, spy := newTestService(newMockRepo(), &mockCounter{})
	m, err := svc.CreateMenu(context.Background(), "  Quarterly Répörts  ", nil, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "quarterly-reports", m.Slug)
	assert.Equal(t, "Quarterly Répörts", m.Title)
	assert.Equal(t, 0, m.Level)
	assert.Equal(t, 1, spy.bumps)
}

func TestCreateMenuRejectsDeepParent(t *testing.T) {
	repo := newMockRepo()
	root := repo.add(nil, 0)
	mid := repo.add(idp(root.ID), 1)
	leaf := repo.add(idp(mid.ID), 2)
	svc, _ := newTestService(repo, &mockCounter{})

	_, err := svc.CreateMenu(context.Background(), "Too Deep", idp(leaf.ID), 0, true)
	structural, ok := shared.IsStructural(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeMaxDepthExceeded, structural.Code)
}

func TestCreateMenuRejectsMissingParent(t *testing.T) {
	svc, _ := newTestService(newMockRepo(), &mockCounter{})
	_, err := svc.CreateMenu(context.Background(), "Orphan", idp(99), 0, true)
	structural, ok := shared.IsStructural(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeParentNotFound, structural.Code)
}

func TestMoveMenuShiftsSubtree(t *testing.T) {
	repo := newMockRepo()
	rootA := repo.add(nil, 0)
	rootB := repo.add(nil, 0)
	child := repo.add(idp(rootB.ID), 1)
	svc, spy := newTestService(repo, &mockCounter{})

	moved, err := svc.MoveMenu(context.Background(), rootB.ID, idp(rootA.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Level)
	assert.Equal(t, 2, repo.menus[child.ID].Level, "descendants shift with the parent")
	assert.Equal(t, 1, spy.bumps)
}

func TestMoveMenuRejectsWhenSubtreeWouldExceedCap(t *testing.T) {
	repo := newMockRepo()
	rootA := repo.add(nil, 0)
	midA := repo.add(idp(rootA.ID), 1)
	rootB := repo.add(nil, 0)
	repo.add(idp(rootB.ID), 1) // one level of depth below rootB
	svc, _ := newTestService(repo, &mockCounter{})

	// rootB would land at level 2 and its child at level 3.
	_, err := svc.MoveMenu(context.Background(), rootB.ID, idp(midA.ID))
	structural, ok := shared.IsStructural(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeMaxDepthExceeded, structural.Code)
}

func TestMoveMenuToRoot(t *testing.T) {
	repo := newMockRepo()
	root := repo.add(nil, 0)
	child := repo.add(idp(root.ID), 1)
	svc, _ := newTestService(repo, &mockCounter{})

	moved, err := svc.MoveMenu(context.Background(), child.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Level)
	assert.Nil(t, moved.ParentID)
}

func TestDeleteMenuRejectsParentsAndGrantedNodes(t *testing.T) {
	repo := newMockRepo()
	root := repo.add(nil, 0)
	leaf := repo.add(idp(root.ID), 1)
	counter := &mockCounter{counts: map[int64]int64{leaf.ID: 2}}
	svc, _ := newTestService(repo, counter)
	ctx := context.Background()

	err := svc.DeleteMenu(ctx, root.ID)
	assert.ErrorIs(t, err, shared.ErrValidation)

	err = svc.DeleteMenu(ctx, leaf.ID)
	assert.ErrorIs(t, err, shared.ErrGrantsExist)

	counter.counts[leaf.ID] = 0
	require.NoError(t, svc.DeleteMenu(ctx, leaf.ID))
	_, err = svc.GetMenu(ctx, leaf.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
