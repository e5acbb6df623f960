package qamus

import "context"

// Identity is the opaque identity-provider collaborator. The core only
// needs the current user id plus session lifecycle calls; credential
// handling stays outside.
type Identity interface {
	// CurrentUserID returns the authenticated user id, or "" when no
	// session exists.
	CurrentUserID() string

	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error

	// DeleteAccount removes the identity record. Callers must cascade
	// remote profile deletion first via Gateway.DeleteUserData.
	DeleteAccount(ctx context.Context) error
}
