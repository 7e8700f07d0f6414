package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helios-portal/helios/internal/shared"
)

// RepositoryPort defines data access methods for content.
type RepositoryPort interface {
	ListContent(ctx context.Context) ([]Content, error)
	GetContent(ctx context.Context, id int64) (Content, error)
	GetContentBySlug(ctx context.Context, slug string) (Content, error)
	CreateContent(ctx context.Context, c Content) (Content, error)
	UpdateContent(ctx context.Context, c Content) (Content, error)
	SetStatus(ctx context.Context, id int64, status string, publishedAt, expiresAt *time.Time) (Content, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	SoftDeleteContent(ctx context.Context, id int64) error
}

// GrantCounter reports how many active grants reference an entity.
type GrantCounter interface {
	GrantsReferencing(ctx context.Context, entity string, id int64) (int64, error)
}

// Invalidator drops memoized authorization decisions after entity mutations.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles content lifecycle logic.
type Service struct {
	repo        RepositoryPort
	grants      GrantCounter
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds a Service instance. invalidator may be nil.
func NewService(repo RepositoryPort, grants GrantCounter, invalidator Invalidator) *Service {
	return &Service{repo: repo, grants: grants, invalidator: invalidator, now: time.Now}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLogger attaches a logger for invalidation failures.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
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

// ListContent returns all content items.
func (s *Service) ListContent(ctx context.Context) ([]Content, error) {
	return s.repo.ListContent(ctx)
}

// GetContent fetches a content item by id.
func (s *Service) GetContent(ctx context.Context, id int64) (Content, error) {
	return s.repo.GetContent(ctx, id)
}

// CreateContent inserts a new draft. The slug derives from the title unless
// one is supplied.
func (s *Service) CreateContent(ctx context.Context, c Content) (Content, error) {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return Content{}, fmt.Errorf("%w: content title required", shared.ErrValidation)
	}
	if c.Slug == "" {
		c.Slug = shared.Slugify(c.Title)
	} else {
		c.Slug = shared.Slugify(c.Slug)
	}
	c.Status = StatusDraft
	return s.repo.CreateContent(ctx, c)
}

// UpdateContent updates title, body, and visibility. Toggling visibility
// changes decisions for public items, so the cache is invalidated.
func (s *Service) UpdateContent(ctx context.Context, c Content) (Content, error) {
	existing, err := s.repo.GetContent(ctx, c.ID)
	if err != nil {
		return Content{}, err
	}
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return Content{}, fmt.Errorf("%w: content title required", shared.ErrValidation)
	}
	updated, err := s.repo.UpdateContent(ctx, c)
	if err != nil {
		return Content{}, err
	}
	if existing.IsPublic != updated.IsPublic {
		s.invalidate(ctx)
	}
	return updated, nil
}

// PublishContent moves a draft or archived item to published with an optional
// publish window. An expiry before the publish instant is rejected.
func (s *Service) PublishContent(ctx context.Context, id int64, publishAt, expiresAt *time.Time) (Content, error) {
	existing, err := s.repo.GetContent(ctx, id)
	if err != nil {
		return Content{}, err
	}
	if existing.Status == StatusPublished {
		return Content{}, fmt.Errorf("%w: content %d already published", shared.ErrConflict, id)
	}
	now := s.now().UTC()
	if publishAt == nil {
		publishAt = &now
	}
	if expiresAt != nil && !expiresAt.After(*publishAt) {
		return Content{}, fmt.Errorf("%w: expiry must be after publish time", shared.ErrValidation)
	}
	published, err := s.repo.SetStatus(ctx, id, StatusPublished, publishAt, expiresAt)
	if err != nil {
		return Content{}, err
	}
	s.invalidate(ctx)
	return published, nil
}

// ArchiveContent retires a published or expired item.
func (s *Service) ArchiveContent(ctx context.Context, id int64) (Content, error) {
	existing, err := s.repo.GetContent(ctx, id)
	if err != nil {
		return Content{}, err
	}
	if existing.Status == StatusDraft {
		return Content{}, fmt.Errorf("%w: draft content cannot be archived", shared.ErrValidation)
	}
	archived, err := s.repo.SetStatus(ctx, id, StatusArchived, existing.PublishedAt, existing.ExpiresAt)
	if err != nil {
		return Content{}, err
	}
	s.invalidate(ctx)
	return archived, nil
}

// SweepExpired transitions published items past their expiry to expired.
// The worker runs it on a schedule.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

// DeleteContent soft-deletes a content item unless active grants still
// reference it.
func (s *Service) DeleteContent(ctx context.Context, id int64) error {
	if _, err := s.repo.GetContent(ctx, id); err != nil {
		return err
	}
	count, err := s.grants.GrantsReferencing(ctx, "contents", id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: content %d is referenced by %d grants", shared.ErrGrantsExist, id, count)
	}
	if err := s.repo.SoftDeleteContent(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}
