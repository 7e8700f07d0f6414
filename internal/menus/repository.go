package menus

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helios-portal/helios/internal/platform/db"
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

const menuColumns = `id, slug, title, parent_id, level, position, is_active, created_at, updated_at, deleted_at`

func scanMenu(row pgx.Row) (Menu, error) {
	var m Menu
	err := row.Scan(&m.ID, &m.Slug, &m.Title, &m.ParentID, &m.Level, &m.Position, &m.IsActive, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Menu{}, shared.ErrNotFound
	}
	return m, err
}

// ListMenus returns all non-deleted menus ordered for tree display.
func (r *Repository) ListMenus(ctx context.Context) ([]Menu, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+menuColumns+` FROM menus WHERE deleted_at IS NULL ORDER BY level, position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var menus []Menu
	for rows.Next() {
		var m Menu
		if err := rows.Scan(&m.ID, &m.Slug, &m.Title, &m.ParentID, &m.Level, &m.Position, &m.IsActive, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

// GetMenu fetches a non-deleted menu by id.
func (r *Repository) GetMenu(ctx context.Context, id int64) (Menu, error) {
	return scanMenu(r.pool.QueryRow(ctx, `SELECT `+menuColumns+` FROM menus WHERE id = $1 AND deleted_at IS NULL`, id))
}

// CreateMenu inserts a new menu at the given level.
func (r *Repository) CreateMenu(ctx context.Context, m Menu) (Menu, error) {
	created, err := scanMenu(r.pool.QueryRow(ctx,
		`INSERT INTO menus (slug, title, parent_id, level, position, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING `+menuColumns,
		m.Slug, m.Title, m.ParentID, m.Level, m.Position, m.IsActive))
	if isUnique(err) {
		return Menu{}, shared.ErrConflict
	}
	return created, err
}

// UpdateMenu updates title, position, and activation without moving the node.
func (r *Repository) UpdateMenu(ctx context.Context, m Menu) (Menu, error) {
	return scanMenu(r.pool.QueryRow(ctx,
		`UPDATE menus SET title = $2, position = $3, is_active = $4, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL RETURNING `+menuColumns,
		m.ID, m.Title, m.Position, m.IsActive))
}

// ChildIDs returns the non-deleted direct children of the given menus.
func (r *Repository) ChildIDs(ctx context.Context, parentIDs []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM menus WHERE parent_id = ANY($1) AND deleted_at IS NULL`, parentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Move re-parents the node and shifts the levels of the listed descendants
// by delta, atomically.
func (r *Repository) Move(ctx context.Context, id int64, parentID *int64, newLevel int, descendantIDs []int64, delta int) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE menus SET parent_id = $2, level = $3, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, parentID, newLevel)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		if len(descendantIDs) > 0 && delta != 0 {
			if _, err := tx.Exec(ctx, `UPDATE menus SET level = level + $2, updated_at = NOW() WHERE id = ANY($1) AND deleted_at IS NULL`, descendantIDs, delta); err != nil {
				return err
			}
		}
		return nil
	})
}

// SoftDeleteMenu marks the menu deleted.
func (r *Repository) SoftDeleteMenu(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE menus SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// HasChildren reports whether the menu has non-deleted children.
func (r *Repository) HasChildren(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM menus WHERE parent_id = $1 AND deleted_at IS NULL)`, id).Scan(&exists)
	return exists, err
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
