package domain

import "time"

// User is an account held by the identity service.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// RefreshToken stores the hash of an opaque refresh credential.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is no longer usable at t.
func (t RefreshToken) Expired(at time.Time) bool {
	return !at.Before(t.ExpiresAt)
}

// Principal is the authenticated caller derived from a verified access token.
type Principal struct {
	UserID   string
	Username string
}
