package users

import "time"

// User represents a portal account. Authentication happens upstream; the
// core stores credentials only so the data-entry surface is complete.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}
