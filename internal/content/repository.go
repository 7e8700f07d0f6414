package content

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helios-portal/helios/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const contentColumns = `id, slug, title, body, status, published_at, expires_at, is_public, created_at, updated_at, deleted_at`

func scanContent(row pgx.Row) (Content, error) {
	var c Content
	err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.Body, &c.Status, &c.PublishedAt, &c.ExpiresAt, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Content{}, shared.ErrNotFound
	}
	return c, err
}

// ListContent returns all non-deleted content ordered by newest first.
func (r *Repository) ListContent(ctx context.Context) ([]Content, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+contentColumns+` FROM contents WHERE deleted_at IS NULL ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Content
	for rows.Next() {
		var c Content
		if err := rows.Scan(&c.ID, &c.Slug, &c.Title, &c.Body, &c.Status, &c.PublishedAt, &c.ExpiresAt, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// GetContent fetches a non-deleted content item by id.
func (r *Repository) GetContent(ctx context.Context, id int64) (Content, error) {
	return scanContent(r.pool.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = $1 AND deleted_at IS NULL`, id))
}

// GetContentBySlug fetches a non-deleted content item by slug.
func (r *Repository) GetContentBySlug(ctx context.Context, slug string) (Content, error) {
	return scanContent(r.pool.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE slug = $1 AND deleted_at IS NULL`, slug))
}

// CreateContent inserts a new draft.
func (r *Repository) CreateContent(ctx context.Context, c Content) (Content, error) {
	created, err := scanContent(r.pool.QueryRow(ctx,
		`INSERT INTO contents (slug, title, body, status, is_public, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING `+contentColumns,
		c.Slug, c.Title, c.Body, c.Status, c.IsPublic))
	if isUnique(err) {
		return Content{}, shared.ErrConflict
	}
	return created, err
}

// UpdateContent updates title, body, and visibility.
func (r *Repository) UpdateContent(ctx context.Context, c Content) (Content, error) {
	return scanContent(r.pool.QueryRow(ctx,
		`UPDATE contents SET title = $2, body = $3, is_public = $4, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL RETURNING `+contentColumns,
		c.ID, c.Title, c.Body, c.IsPublic))
}

// SetStatus transitions the item's lifecycle state.
func (r *Repository) SetStatus(ctx context.Context, id int64, status string, publishedAt, expiresAt *time.Time) (Content, error) {
	return scanContent(r.pool.QueryRow(ctx,
		`UPDATE contents SET status = $2, published_at = $3, expires_at = $4, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL RETURNING `+contentColumns,
		id, status, publishedAt, expiresAt))
}

// MarkExpired moves published items past their expiry to expired and
// returns how many rows changed.
func (r *Repository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE contents SET status = $2, updated_at = NOW() WHERE status = $3 AND expires_at IS NOT NULL AND expires_at <= $1 AND deleted_at IS NULL`,
		now, StatusExpired, StatusPublished)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SoftDeleteContent marks the item deleted.
func (r *Repository) SoftDeleteContent(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE contents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
