package middleware

import (
	"context"

	"github.com/loothing/lodestone/internal/auth"
)

type contextKey string

const (
	ContextKeyAuth     contextKey = "auth_result"
	ContextKeyClientID contextKey = "client_id"
)

func AuthFromContext(ctx context.Context) (*auth.AuthResult, bool) {
	v, ok := ctx.Value(ContextKeyAuth).(*auth.AuthResult)
	return v, ok
}

func ClientIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyClientID).(string)
	return v, ok
}
