package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
	ctxToken
)

var ErrNoIdentity = errors.New("auth: identity not in context")

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

// PresentedToken is the verified bearer token and its expiry, kept so logout can
// revoke exactly what the client sent.
type PresentedToken struct {
	Raw       string
	ExpiresAt int64
}

func withToken(ctx context.Context, t PresentedToken) context.Context {
	return context.WithValue(ctx, ctxToken, t)
}

func Token(ctx context.Context) (PresentedToken, bool) {
	t, ok := ctx.Value(ctxToken).(PresentedToken)
	return t, ok && t.Raw != ""
}
