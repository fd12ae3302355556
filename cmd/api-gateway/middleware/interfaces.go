package middleware

import (
	"context"

	"github.com/rinkside/rinkside/internal/auth"
)

// TokenValidator defines the contract for validating session tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Identity, error)
}
