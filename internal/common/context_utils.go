package common

import (
	"context"
)

type contextKey string

const (
	// UserEmailKey carries the authenticated user's email through the request
	// context once the JWT middleware has validated the token.
	UserEmailKey contextKey = "user_email"
)

// GetUserEmailFromContext extracts the authenticated email from the context
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}
