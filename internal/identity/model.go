package identity

import "time"

// User represents a registered wallet owner.
type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Registration is the onboarding request for a new user.
type Registration struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
	Password2 string
}

// Credentials request structure.
type Credentials struct {
	Username string
	Password string
}
