package roles

import "time"

// Role represents a grouping of capabilities assignable to users. System
// roles are immutable and undeletable; Priority breaks ties when a user's
// roles disagree. ParentID links the role hierarchy, which feeds permission
// inheritance only when InheritPermissions is set.
type Role struct {
	ID                 int64
	Name               string
	Description        string
	IsActive           bool
	IsSystem           bool
	Priority           int
	ParentID           *int64
	InheritPermissions bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}
