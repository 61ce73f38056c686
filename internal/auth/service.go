package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/identity"
)

// ErrTokenRevoked is returned when a token carries an outdated version.
var ErrTokenRevoked = errors.New("token version invalidated")

// Service issues and rotates token pairs.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an already authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, err := SignHS256(newClaims(user.ID, user.TokenVersion, tokenTypeAccess, now, s.cfg.AccessTokenTTL), []byte(s.cfg.JWTSecret))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := SignHS256(newClaims(user.ID, user.TokenVersion, tokenTypeRefresh, now, s.cfg.RefreshTokenTTL), []byte(s.cfg.RefreshSecret))
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := ParseHS256(refreshToken, []byte(s.cfg.RefreshSecret), tokenTypeRefresh)
	if err != nil {
		return "", 0, err
	}

	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if user.TokenVersion != claims.Version {
		return "", 0, ErrTokenRevoked
	}

	signed, err := SignHS256(newClaims(user.ID, user.TokenVersion, tokenTypeAccess, s.now(), s.cfg.AccessTokenTTL), []byte(s.cfg.JWTSecret))
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

// Verify checks an access token and its version against the stored user.
func (s *Service) Verify(ctx context.Context, accessToken string) (Claims, error) {
	claims, err := ParseAccessToken(accessToken, []byte(s.cfg.JWTSecret))
	if err != nil {
		return Claims{}, err
	}
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if user.TokenVersion != claims.Version {
		return Claims{}, ErrTokenRevoked
	}
	return claims, nil
}
