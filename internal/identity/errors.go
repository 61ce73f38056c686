package identity

import "errors"

var (
	// ErrInvalidRegistration wraps every rejected registration field.
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrUserExists is returned when the username or email is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials hides whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
