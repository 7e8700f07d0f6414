package content

import "time"

// Content statuses. Only published content is reachable by readers; the
// sweep job moves published items past their expiry to expired.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
	StatusExpired   = "expired"
)

// Content is a portal content item. Public items bypass grant checks while
// published and inside their publish window.
type Content struct {
	ID          int64
	Slug        string
	Title       string
	Body        string
	Status      string
	PublishedAt *time.Time
	ExpiresAt   *time.Time
	IsPublic    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}
