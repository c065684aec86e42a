package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidToken = errors.New("invalid or expired desk session")

// Service issues, validates, and revokes desk session tokens.
type Service struct {
	store          TokenStore
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(store TokenStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{
		store:          store,
		tokenTTL:       ttl,
		cookieName:     "desk_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// IssueToken mints a new random token bound to deskID.
func (s *Service) IssueToken(ctx context.Context, deskID string) (string, error) {
	if deskID == "" {
		return "", errors.New("invalid desk id")
	}
	var lastErr error
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		if lastErr = s.store.Save(ctx, token, deskID, s.tokenTTL); lastErr == nil {
			return token, nil
		}
	}
	return "", fmt.Errorf("could not issue token: %w", lastErr)
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken returns the desk bound to authToken and extends its lifetime.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrInvalidToken
	}
	deskID, err := s.store.Lookup(ctx, authToken)
	if err != nil {
		return "", err
	}
	if err := s.store.Touch(ctx, authToken, s.tokenTTL); err != nil && !errors.Is(err, ErrInvalidToken) {
		return "", err
	}
	return deskID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	return s.store.Delete(ctx, authToken)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing desk tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}
