package messaging

// PostCreatedEvent is published to events.post.created after a post commits.
type PostCreatedEvent struct {
	PostID      string `json:"post_id"`
	CommunityID string `json:"community_id"`
	AuthorID    string `json:"author_id"`
	Title       string `json:"title"`
}

// CommentCreatedEvent is published to events.comment.created after a comment
// commits. PostAuthorID lets the notifier target the thread owner without a
// second lookup.
type CommentCreatedEvent struct {
	CommentID    string `json:"comment_id"`
	PostID       string `json:"post_id"`
	PostAuthorID string `json:"post_author_id"`
	AuthorID     string `json:"author_id"`
	PostTitle    string `json:"post_title"`
}

// ReportOpenedEvent is published to events.report.opened after a report is
// filed.
type ReportOpenedEvent struct {
	ReportID string `json:"report_id"`
	Reason   string `json:"reason"`
}
