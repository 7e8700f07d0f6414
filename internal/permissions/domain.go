package permissions

import "time"

// Permission represents an atomic capability, named module.action.
type Permission struct {
	ID          int64
	Name        string
	Module      string
	Category    string
	Action      string
	Description string
	IsActive    bool
	IsSystem    bool
	Priority    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}
