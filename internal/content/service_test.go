package content

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-portal/helios/internal/shared"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockRepo struct {
	items  map[int64]*Content
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[int64]*Content), nextID: 1}
}

func (m *mockRepo) ListContent(_ context.Context) ([]Content, error) {
	var out []Content
	for _, c := range m.items {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockRepo) GetContent(_ context.Context, id int64) (Content, error) {
	c, ok := m.items[id]
	if !ok {
		return Content{}, shared.ErrNotFound
	}
	return *c, nil
}

func (m *mockRepo) GetContentBySlug(_ context.Context, slug string) (Content, error) {
	for _, c := range m.items {
		if c.Slug == slug {
			return *c, nil
		}
	}
	return Content{}, shared.ErrNotFound
}

func (m *mockRepo) CreateContent(_ context.Context, c Content) (Content, error) {
	for _, existing := range m.items {
		if existing.Slug == c.Slug {
			return Content{}, shared.ErrConflict
		}
	}
	c.ID = m.nextID
	m.nextID++
	m.items[c.ID] = &c
	return c, nil
}

func (m *mockRepo) UpdateContent(_ context.Context, c Content) (Content, error) {
	existing, ok := m.items[c.ID]
	if !ok {
		return Content{}, shared.ErrNotFound
	}
	existing.Title = c.Title
	existing.Body = c.Body
	existing.IsPublic = c.IsPublic
	return *existing, nil
}

func (m *mockRepo) SetStatus(_ context.Context, id int64, status string, publishedAt, expiresAt *time.Time) (Content, error) {
	existing, ok := m.items[id]
	if !ok {
		return Content{}, shared.ErrNotFound
	}
	existing.Status = status
	existing.PublishedAt = publishedAt
	existing.ExpiresAt = expiresAt
	return *existing, nil
}

func (m *mockRepo) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, c := range m.items {
		if c.Status == StatusPublished && c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
			c.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) SoftDeleteContent(_ context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type mockCounter struct {
	counts map[int64]int64
}

func (m *mockCounter) GrantsReferencing(_ context.Context, _ string, id int64) (int64, error) {
	return m.counts[id], nil
}

type bumpSpy struct {
	calls int
}

func (b *bumpSpy) Bump(_ context.Context) error {
	b.calls++
	return nil
}

func newTestService(repo *mockRepo, counter *mockCounter, spy *bumpSpy) *Service {
	if counter == nil {
		counter = &mockCounter{}
	}
	var inv Invalidator
	if spy != nil {
		inv = spy
	}
	return NewService(repo, counter, inv).WithClock(func() time.Time { return testNow })
}

func TestCreateContentSlugsAndDrafts(t *testing.T) {
	svc := newTestService(newMockRepo(), nil, nil)

	c, err := svc.CreateContent(context.Background(), Content{Title: "Q1 Usage Report", Body: "..."})
	require.NoError(t, err)
	assert.Equal(t, "q1-usage-report", c.Slug)
	assert.Equal(t, StatusDraft, c.Status)
	assert.Nil(t, c.PublishedAt)
}

func TestCreateContentRequiresTitle(t *testing.T) {
	svc := newTestService(newMockRepo(), nil, nil)
	_, err := svc.CreateContent(context.Background(), Content{Title: "   "})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateContentInvalidatesOnVisibilityChange(t *testing.T) {
	repo := newMockRepo()
	spy := &bumpSpy{}
	svc := newTestService(repo, nil, spy)
	ctx := context.Background()

	c, err := svc.CreateContent(ctx, Content{Title: "Report"})
	require.NoError(t, err)

	c.Body = "updated"
	_, err = svc.UpdateContent(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, spy.calls, "same visibility should not bump")

	c.IsPublic = true
	_, err = svc.UpdateContent(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, spy.calls)
}

func TestPublishContentDefaultsToNow(t *testing.T) {
	repo := newMockRepo()
	spy := &bumpSpy{}
	svc := newTestService(repo, nil, spy)
	ctx := context.Background()

	c, err := svc.CreateContent(ctx, Content{Title: "Report"})
	require.NoError(t, err)

	published, err := svc.PublishContent(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	assert.True(t, published.PublishedAt.Equal(testNow))
	assert.Equal(t, 1, spy.calls)
}

func TestPublishContentRejectsInvertedWindow(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.CreateContent(ctx, Content{Title: "Report"})
	require.NoError(t, err)

	at := testNow.Add(time.Hour)
	before := testNow
	_, err = svc.PublishContent(ctx, c.ID, &at, &before)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.PublishContent(ctx, c.ID, &at, &at)
	assert.ErrorIs(t, err, shared.ErrValidation, "zero-length window rejected")
}

func TestPublishContentAlreadyPublished(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.CreateContent(ctx, Content{Title: "Report"})
	require.NoError(t, err)
	_, err = svc.PublishContent(ctx, c.ID, nil, nil)
	require.NoError(t, err)

	_, err = svc.PublishContent(ctx, c.ID, nil, nil)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestArchiveContentRejectsDraft(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	c, err := svc.CreateContent(ctx, Content{Title: "Report"})
	require.NoError(t, err)

	_, err = svc.ArchiveContent(ctx, c.ID)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.PublishContent(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	archived, err := svc.ArchiveContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)
}

func TestSweepExpired(t *testing.T) {
	repo := newMockRepo()
	spy := &bumpSpy{}
	svc := newTestService(repo, nil, spy)
	ctx := context.Background()

	past := testNow.Add(-time.Hour)
	start := testNow.Add(-2 * time.Hour)
	stale, err := svc.CreateContent(ctx, Content{Title: "Stale"})
	require.NoError(t, err)
	_, err = svc.PublishContent(ctx, stale.ID, &start, &past)
	require.NoError(t, err)

	future := testNow.Add(time.Hour)
	fresh, err := svc.CreateContent(ctx, Content{Title: "Fresh"})
	require.NoError(t, err)
	_, err = svc.PublishContent(ctx, fresh.ID, &start, &future)
	require.NoError(t, err)
	spy.calls = 0

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, spy.calls)

	got, err := svc.GetContent(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	got, err = svc.GetContent(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)

	n, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, spy.calls, "no bump when nothing expired")
}

func TestDeleteContentProtections(t *testing.T) {
	repo := newMockRepo()
	spy := &bumpSpy{}
	ctx := context.Background()

	held, err := newTestService(repo, nil, nil).CreateContent(ctx, Content{Title: "Held"})
	require.NoError(t, err)
	free, err := newTestService(repo, nil, nil).CreateContent(ctx, Content{Title: "Free"})
	require.NoError(t, err)

	counter := &mockCounter{counts: map[int64]int64{held.ID: 1}}
	svc := newTestService(repo, counter, spy)

	assert.ErrorIs(t, svc.DeleteContent(ctx, held.ID), shared.ErrGrantsExist)
	assert.Zero(t, spy.calls)

	require.NoError(t, svc.DeleteContent(ctx, free.ID))
	assert.Equal(t, 1, spy.calls)

	assert.ErrorIs(t, svc.DeleteContent(ctx, 999), shared.ErrNotFound)
}
