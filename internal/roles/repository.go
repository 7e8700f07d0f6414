package roles

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

const roleColumns = `id, name, description, is_active, is_system, priority, parent_id, inherit_permissions, created_at, updated_at, deleted_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive, &r.IsSystem, &r.Priority, &r.ParentID, &r.InheritPermissions, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return r, err
}

// ListRoles returns all non-deleted roles ordered by priority then name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE deleted_at IS NULL ORDER BY priority DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsActive, &role.IsSystem, &role.Priority, &role.ParentID, &role.InheritPermissions, &role.CreatedAt, &role.UpdatedAt, &role.DeletedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a non-deleted role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id))
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	created, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description, is_active, is_system, priority, parent_id, inherit_permissions, created_at, updated_at)
		 VALUES ($1, $2, $3, FALSE, $4, $5, $6, NOW(), NOW()) RETURNING `+roleColumns,
		role.Name, role.Description, role.IsActive, role.Priority, role.ParentID, role.InheritPermissions))
	if isUnique(err) {
		return Role{}, shared.ErrConflict
	}
	return created, err
}

// UpdateRole updates a non-system role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	updated, err := scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, is_active = $4, priority = $5, parent_id = $6, inherit_permissions = $7, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.IsActive, role.Priority, role.ParentID, role.InheritPermissions))
	if isUnique(err) {
		return Role{}, shared.ErrConflict
	}
	return updated, err
}

// SoftDeleteRole marks the role deleted.
func (r *Repository) SoftDeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// PermissionGrantsOf returns the role's non-deleted permission grants, used
// when materializing inherited grants onto child roles.
func (r *Repository) PermissionGrantsOf(ctx context.Context, roleID int64) ([]PermissionGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT target_id, starts_at, expires_at, priority, polarity FROM role_permissions WHERE subject_id = $1 AND deleted_at IS NULL`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []PermissionGrant
	for rows.Next() {
		var g PermissionGrant
		if err := rows.Scan(&g.PermissionID, &g.StartsAt, &g.ExpiresAt, &g.Priority, &g.Polarity); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
