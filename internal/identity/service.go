package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 150
)

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register validates the request and stores a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := validateRegistration(reg); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		ID:           uuid.New().String(),
		Username:     reg.Username,
		Email:        reg.Email,
		FirstName:    strings.TrimSpace(reg.FirstName),
		LastName:     strings.TrimSpace(reg.LastName),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies credentials and stamps the login time.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now

	return user, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Remove deletes the user. The caller detaches any ledger account first.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func validateRegistration(reg Registration) error {
	switch {
	case reg.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidRegistration)
	case len(reg.Username) > maxUsernameLength:
		return fmt.Errorf("%w: username must be at most %d characters", ErrInvalidRegistration, maxUsernameLength)
	case strings.ContainsFunc(reg.Username, unicode.IsSpace):
		return fmt.Errorf("%w: username must not contain spaces", ErrInvalidRegistration)
	}
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalidRegistration)
	}
	if reg.Password != reg.Password2 {
		return fmt.Errorf("%w: password fields didn't match", ErrInvalidRegistration)
	}
	return validatePassword(reg.Password, reg.Username)
}

func validatePassword(password, username string) error {
	switch {
	case len(password) < minPasswordLength:
		return fmt.Errorf("%w: password must contain at least %d characters", ErrInvalidRegistration, minPasswordLength)
	case strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0:
		return fmt.Errorf("%w: password is entirely numeric", ErrInvalidRegistration)
	case strings.EqualFold(password, username):
		return fmt.Errorf("%w: password is too similar to the username", ErrInvalidRegistration)
	}
	return nil
}
