package identity

import (
	"context"
	"errors"
	"testing"
)

func validRegistration() Registration {
	return Registration{
		Username:  "amina",
		Email:     "amina@example.com",
		FirstName: "Amina",
		Password:  "s3cret-pass",
		Password2: "s3cret-pass",
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == "" || string(user.PasswordHash) == "s3cret-pass" {
		t.Fatalf("unexpected user %+v", user)
	}

	authed, err := svc.Authenticate(ctx, Credentials{Username: "amina", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID || authed.LastLogin == nil {
		t.Fatalf("expected last login to be stamped, got %+v", authed)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	cases := map[string]func(*Registration){
		"mismatch":      func(r *Registration) { r.Password2 = "other-pass" },
		"short":         func(r *Registration) { r.Password, r.Password2 = "abc123", "abc123" },
		"numeric":       func(r *Registration) { r.Password, r.Password2 = "12345678", "12345678" },
		"same as user":  func(r *Registration) { r.Password, r.Password2 = "aminaamina", "aminaamina"; r.Username = "AminaAmina" },
		"no username":   func(r *Registration) { r.Username = " " },
		"spaced":        func(r *Registration) { r.Username = "am ina" },
		"invalid email": func(r *Registration) { r.Email = "not-an-email" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			reg := validRegistration()
			mutate(&reg)
			if _, err := svc.Register(ctx, reg); !errors.Is(err, ErrInvalidRegistration) {
				t.Fatalf("expected invalid registration, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg := validRegistration()
	reg.Email = "other@example.com"
	if _, err := svc.Register(ctx, reg); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected user exists, got %v", err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, validRegistration()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Username: "amina", Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Username: "nobody", Password: "s3cret-pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Remove(ctx, user.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := svc.Get(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if err := svc.Remove(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found on second remove, got %v", err)
	}
}
