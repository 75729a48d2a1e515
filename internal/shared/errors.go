package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing, expired or revoked backend credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the backend refused the operation for this user.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates the backend rejected submitted data.
	ErrValidation = errors.New("validation failed")
	// ErrNotAuthenticated occurs when an operation needs a logged in session.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrLoginSuperseded occurs when a logout happened while a login was in flight.
	ErrLoginSuperseded = errors.New("login superseded by logout")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
