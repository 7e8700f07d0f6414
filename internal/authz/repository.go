package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helios-portal/helios/internal/shared"
)

// grantTables maps each relation to its backing table. All four tables share
// the subject_id/target_id column layout; only user_roles carries is_primary.
var grantTables = map[RelationKind]string{
	KindUserRole:       "user_roles",
	KindRolePermission: "role_permissions",
	KindRoleMenu:       "role_menus",
	KindRoleContent:    "role_contents",
}

// targetTables maps each relation to the entity table its target_id references.
var targetTables = map[RelationKind]string{
	KindUserRole:       "roles",
	KindRolePermission: "permissions",
	KindRoleMenu:       "menus",
	KindRoleContent:    "contents",
}

// ContentInfo is the content row view resolution needs.
type ContentInfo struct {
	ID          int64
	Slug        string
	Status      string
	PublishedAt *time.Time
	ExpiresAt   *time.Time
	Public      bool
}

// MenuItem is the menu row view used for tree assembly.
type MenuItem struct {
	ID       int64
	Slug     string
	Title    string
	ParentID *int64
	Level    int
	Position int
}

// Repository provides PostgreSQL backed reads for the resolver and node
// lookups for the hierarchy validator.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const grantColumns = `id, subject_id, target_id, is_active, starts_at, expires_at, priority, polarity, inherited, created_by, updated_by, created_at, updated_at, deleted_at`

func scanGrant(row pgx.Rows, kind RelationKind) (Grant, error) {
	var g Grant
	g.Kind = kind
	err := row.Scan(&g.ID, &g.SubjectID, &g.TargetID, &g.Active, &g.StartsAt, &g.ExpiresAt,
		&g.Priority, &g.Polarity, &g.Inherited, &g.CreatedBy, &g.UpdatedBy, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt)
	return g, err
}

// UserRoleGrants returns all non-deleted user→role grants for a user,
// including inactive and out-of-window rows; the resolver filters by instant.
func (r *Repository) UserRoleGrants(ctx context.Context, userID int64) ([]Grant, error) {
	query := fmt.Sprintf(`SELECT %s, is_primary FROM user_roles WHERE subject_id = $1 AND deleted_at IS NULL`, grantColumns)
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		g.Kind = KindUserRole
		if err := rows.Scan(&g.ID, &g.SubjectID, &g.TargetID, &g.Active, &g.StartsAt, &g.ExpiresAt,
			&g.Priority, &g.Polarity, &g.Inherited, &g.CreatedBy, &g.UpdatedBy, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt, &g.Primary); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// RoleGrants returns non-deleted grants of the given kind held by any of the
// roles against a single target.
func (r *Repository) RoleGrants(ctx context.Context, kind RelationKind, roleIDs []int64, targetID int64) ([]Grant, error) {
	table, ok := grantTables[kind]
	if !ok || kind == KindUserRole {
		return nil, fmt.Errorf("authz: relation %q has no role-held grants", kind)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE subject_id = ANY($1) AND target_id = $2 AND deleted_at IS NULL`, grantColumns, table)
	rows, err := r.pool.Query(ctx, query, roleIDs, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows, kind)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// RoleGrantsAll returns every non-deleted grant of the given kind held by the
// roles, keyed by target. Used for menu-tree assembly where all targets are
// decided in one pass.
func (r *Repository) RoleGrantsAll(ctx context.Context, kind RelationKind, roleIDs []int64) (map[int64][]Grant, error) {
	table, ok := grantTables[kind]
	if !ok || kind == KindUserRole {
		return nil, fmt.Errorf("authz: relation %q has no role-held grants", kind)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE subject_id = ANY($1) AND deleted_at IS NULL`, grantColumns, table)
	rows, err := r.pool.Query(ctx, query, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byTarget := make(map[int64][]Grant)
	for rows.Next() {
		g, err := scanGrant(rows, kind)
		if err != nil {
			return nil, err
		}
		byTarget[g.TargetID] = append(byTarget[g.TargetID], g)
	}
	return byTarget, rows.Err()
}

// ActiveRoles narrows the ids to roles that are active and not soft-deleted.
func (r *Repository) ActiveRoles(ctx context.Context, roleIDs []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM roles WHERE id = ANY($1) AND is_active AND deleted_at IS NULL`, roleIDs)
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

// UserActive reports whether the user exists, is active, and not soft-deleted.
func (r *Repository) UserActive(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active AND deleted_at IS NULL)`, userID).Scan(&exists)
	return exists, err
}

// TargetExists reports whether the target entity of the relation exists,
// is active where the entity has an activation flag, and is not soft-deleted.
func (r *Repository) TargetExists(ctx context.Context, kind RelationKind, targetID int64) (bool, error) {
	table, ok := targetTables[kind]
	if !ok {
		return false, fmt.Errorf("authz: unknown relation %q", kind)
	}
	var query string
	switch kind {
	case KindRoleMenu, KindRoleContent:
		query = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND deleted_at IS NULL)`, table)
	default:
		query = fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND is_active AND deleted_at IS NULL)`, table)
	}
	var exists bool
	err := r.pool.QueryRow(ctx, query, targetID).Scan(&exists)
	return exists, err
}

// PermissionIDByName resolves an active permission by its unique name.
func (r *Repository) PermissionIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM permissions WHERE name = $1 AND is_active AND deleted_at IS NULL`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return id, err
}

// ContentByID fetches a content row excluding soft-deleted ones.
func (r *Repository) ContentByID(ctx context.Context, id int64) (ContentInfo, error) {
	var c ContentInfo
	err := r.pool.QueryRow(ctx,
		`SELECT id, slug, status, published_at, expires_at, is_public FROM contents WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&c.ID, &c.Slug, &c.Status, &c.PublishedAt, &c.ExpiresAt, &c.Public)
	if errors.Is(err, pgx.ErrNoRows) {
		return ContentInfo{}, shared.ErrNotFound
	}
	return c, err
}

// ActiveMenus returns all active menu nodes ordered for tree assembly.
func (r *Repository) ActiveMenus(ctx context.Context) ([]MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, slug, title, parent_id, level, position FROM menus WHERE is_active AND deleted_at IS NULL ORDER BY level, position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var menus []MenuItem
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.Slug, &m.Title, &m.ParentID, &m.Level, &m.Position); err != nil {
			return nil, err
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

// MenuNode implements NodeStore for the hierarchy validator.
func (r *Repository) MenuNode(ctx context.Context, id int64) (Node, error) {
	var n Node
	err := r.pool.QueryRow(ctx,
		`SELECT id, parent_id, level FROM menus WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&n.ID, &n.ParentID, &n.Level)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, shared.ErrNotFound
	}
	return n, err
}

// RoleNode implements NodeStore for the hierarchy validator. Role levels are
// not persisted; the validator only follows parents.
func (r *Repository) RoleNode(ctx context.Context, id int64) (Node, error) {
	var n Node
	err := r.pool.QueryRow(ctx,
		`SELECT id, parent_id, 0 FROM roles WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&n.ID, &n.ParentID, &n.Level)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, shared.ErrNotFound
	}
	return n, err
}

// SubjectExists reports whether the grant subject (a user for user→role
// rows, a role otherwise) exists, is active, and is not soft-deleted.
func (r *Repository) SubjectExists(ctx context.Context, kind RelationKind, subjectID int64) (bool, error) {
	if kind == KindUserRole {
		return r.UserActive(ctx, subjectID)
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1 AND is_active AND deleted_at IS NULL)`, subjectID).Scan(&exists)
	return exists, err
}

// GrantsReferencing counts non-deleted grants that reference the entity as
// either subject or target. The entity stores use this to enforce the
// referential invariant before soft-deleting an entity.
func (r *Repository) GrantsReferencing(ctx context.Context, entity string, id int64) (int64, error) {
	var clauses string
	switch entity {
	case "users":
		clauses = `SELECT COUNT(*) FROM user_roles WHERE subject_id = $1 AND deleted_at IS NULL`
	case "roles":
		clauses = `
			SELECT (SELECT COUNT(*) FROM user_roles WHERE target_id = $1 AND deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM role_permissions WHERE subject_id = $1 AND deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM role_menus WHERE subject_id = $1 AND deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM role_contents WHERE subject_id = $1 AND deleted_at IS NULL)`
	case "permissions":
		clauses = `SELECT COUNT(*) FROM role_permissions WHERE target_id = $1 AND deleted_at IS NULL`
	case "menus":
		clauses = `SELECT COUNT(*) FROM role_menus WHERE target_id = $1 AND deleted_at IS NULL`
	case "contents":
		clauses = `SELECT COUNT(*) FROM role_contents WHERE target_id = $1 AND deleted_at IS NULL`
	default:
		return 0, fmt.Errorf("authz: unknown entity %q", entity)
	}
	var count int64
	err := r.pool.QueryRow(ctx, clauses, id).Scan(&count)
	return count, err
}
