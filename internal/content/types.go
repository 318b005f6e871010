package content

import "time"

// Post types. Polls carry an Options list; the other types leave it empty.
const (
	PostTypeAnnouncement = "announcement"
	PostTypeService      = "service"
	PostTypeListing      = "listing"
	PostTypePoll         = "poll"
)

// Post statuses.
const (
	PostStatusPublished = "published"
	PostStatusHidden    = "hidden"
)

// Post is a piece of content published into a community room.
type Post struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"communityId"`
	AuthorID    string    `json:"authorId"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Options     []string  `json:"options,omitempty"` // poll options, ordered
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsPoll reports whether the post accepts votes.
func (p *Post) IsPoll() bool {
	return p.Type == PostTypePoll
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is the read-only account context the core consumes. Authentication
// and profile management live outside this service.
type User struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Roles        []string `json:"roles"`
	CommunityIDs []string `json:"communityIds"`
}
