package identity

import "time"

// User represents a registered wallet owner.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
}

// Credentials carries a login or registration request.
type Credentials struct {
	Email    string
	Password string
}
