package menus

import "time"

// Menu is a navigation node. Level is derived from placement and capped at
// three levels; a root node has level 0 and no parent.
type Menu struct {
	ID        int64
	Slug      string
	Title     string
	ParentID  *int64
	Level     int
	Position  int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
