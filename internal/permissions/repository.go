package permissions

import (
	"context"
	"errors"

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

const permColumns = `id, name, module, category, action, description, is_active, is_system, priority, created_at, updated_at, deleted_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Module, &p.Category, &p.Action, &p.Description, &p.IsActive, &p.IsSystem, &p.Priority, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return p, err
}

// ListPermissions returns all non-deleted permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permColumns+` FROM permissions WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Category, &p.Action, &p.Description, &p.IsActive, &p.IsSystem, &p.Priority, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a non-deleted permission by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = $1 AND deleted_at IS NULL`, id))
}

// UpsertPermission inserts a permission or refreshes its description and
// classification when the name already exists. Used by the seed path.
func (r *Repository) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx,
		`INSERT INTO permissions (name, module, category, action, description, is_active, is_system, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (name) WHERE deleted_at IS NULL
		 DO UPDATE SET module = EXCLUDED.module, category = EXCLUDED.category, action = EXCLUDED.action, description = EXCLUDED.description, updated_at = NOW()
		 RETURNING `+permColumns,
		p.Name, p.Module, p.Category, p.Action, p.Description, p.IsActive, p.IsSystem, p.Priority))
}

// UpdatePermission updates a non-system permission.
func (r *Repository) UpdatePermission(ctx context.Context, p Permission) (Permission, error) {
	updated, err := scanPermission(r.pool.QueryRow(ctx,
		`UPDATE permissions SET description = $2, is_active = $3, priority = $4, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL RETURNING `+permColumns,
		p.ID, p.Description, p.IsActive, p.Priority))
	if isUnique(err) {
		return Permission{}, shared.ErrConflict
	}
	return updated, err
}

// SoftDeletePermission marks the permission deleted.
func (r *Repository) SoftDeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
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
