package domain

import "time"

// Post is owned by the post service.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user"`
	Content   string    `json:"content"`
	MediaIDs  []string  `json:"mediaIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PostPage is one page of the newest-first post listing.
type PostPage struct {
	Posts       []Post `json:"posts"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	TotalPosts  int    `json:"totalPosts"`
}

// Media describes an uploaded binary held in object storage.
type Media struct {
	ID           string    `json:"id"`
	PublicID     string    `json:"publicId"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	URL          string    `json:"url"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SearchDocument is the search service's projection of a post.
type SearchDocument struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
