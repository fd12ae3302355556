package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rinkside/rinkside/pkg/config"
	"github.com/rinkside/rinkside/pkg/utils"
)

// ErrInvalidToken is returned for missing, malformed, expired or forged tokens
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller of an upload request
type Identity struct {
	Subject string
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity, if any
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// SubjectFromContext returns the caller's subject, or "" for anonymous requests
func SubjectFromContext(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.Subject
	}
	return ""
}

// Service issues and validates session tokens
type Service struct {
	config *config.AuthConfig
}

// NewService creates a new authentication service
func NewService(config *config.AuthConfig) *Service {
	return &Service{config: config}
}

// IssueToken signs a token for subject valid for ttl
func (s *Service) IssueToken(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("subject is required")
	}
	token, err := utils.GenerateJWT(subject, s.config.JWTSecret, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the caller's identity
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	subject, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Identity{Subject: subject}, nil
}
