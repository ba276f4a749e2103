// Package auth carries the acting user through a request context.
package auth

import "context"

type contextKey struct{}

// Identity is who a request acts for. Email is empty when no calendar
// account is connected and the configured default user is acting.
type Identity struct {
	UserID string
	Email  string
}

func (id Identity) Connected() bool { return id.Email != "" }

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// UserID returns the acting user id, or "" outside a request.
func UserID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}
