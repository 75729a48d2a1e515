package auth

import (
	"context"
	"errors"

	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
)

//go:generate mockgen -source backend.go -destination mock_auth/mock_backend.go -package mock_auth

// Tokens gives the backend client access to a session's credentials. RotateAccess
// stores an access token obtained by a refresh.
type Tokens interface {
	AccessToken() string
	RefreshToken() string
	RotateAccess(ctx context.Context, access string) error
}

// Backend is the remote authentication service.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	Logout(ctx context.Context, tokens Tokens) error
	Profile(ctx context.Context, tokens Tokens) (*User, error)
	UpdateProfile(ctx context.Context, tokens Tokens, patch UserPatch) (*User, error)
	ChangePassword(ctx context.Context, tokens Tokens, change PasswordChange) error
	CheckAccess(ctx context.Context, tokens Tokens) (*AccessStatus, error)
}

// FailureReason extracts the most specific human readable message from err: the
// backend's own error text, then the error string, then fallback.
func FailureReason(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	if errors.Is(err, shared.ErrInvalidCredentials) {
		return "Invalid email or password"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

// rejected reports whether the backend refused the session itself, as opposed to
// being unreachable.
func rejected(err error) bool {
	return errors.Is(err, shared.ErrUnauthenticated) ||
		errors.Is(err, shared.ErrForbidden) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrValidation)
}
