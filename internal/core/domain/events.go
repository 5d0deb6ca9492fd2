package domain

import "time"

// Routing keys published on the shared exchange.
const (
	RoutingKeyPostCreated = "post.created"
	RoutingKeyPostDeleted = "post.deleted"
)

// PostCreatedEvent is emitted once a post has been persisted.
type PostCreatedEvent struct {
	EventID   string    `json:"-"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostDeletedEvent is emitted after an owner deleted a post. MediaIDs lists
// the media attached to the post at deletion time.
type PostDeletedEvent struct {
	EventID  string   `json:"-"`
	PostID   string   `json:"postId"`
	UserID   string   `json:"userId"`
	MediaIDs []string `json:"mediaIds"`
}
