// Package auth owns the console's authentication state: one Store per browser
// session, its persisted form, and the HTTP flows that drive it.
package auth

import (
	"context"
	"strings"

	"github.com/rooby-r/sygla-h2o-sub001/internal/rbac"
)

// User is the authenticated account as reported by the backend.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      rbac.Role `json:"role"`
	Phone     string    `json:"phone,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
}

// AccessRole implements rbac.Subject.
func (u *User) AccessRole() rbac.Role {
	if u == nil {
		return ""
	}
	return u.Role
}

// IsAdmin reports whether the user holds the unrestricted administrative role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == rbac.RoleAdmin
}

// DisplayName returns the full name, falling back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Merge returns a copy of u with the non-nil patch fields applied.
func (u User) Merge(p UserPatch) User {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	return u
}

// UserPatch carries editable profile fields. Nil fields are left untouched.
type UserPatch struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
}

// PatchFrom builds a patch that overwrites every editable field with u's values.
func PatchFrom(u User) UserPatch {
	return UserPatch{
		FirstName: &u.FirstName,
		LastName:  &u.LastName,
		Email:     &u.Email,
		Phone:     &u.Phone,
		Avatar:    &u.Avatar,
	}
}

// Credentials are submitted on login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordChange is submitted to the change-password endpoint.
type PasswordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// TokenPair holds the backend credentials of one session.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AccessToken implements Tokens.
func (p *TokenPair) AccessToken() string { return p.Access }

// RefreshToken implements Tokens.
func (p *TokenPair) RefreshToken() string { return p.Refresh }

// RotateAccess implements Tokens.
func (p *TokenPair) RotateAccess(_ context.Context, access string) error {
	p.Access = access
	return nil
}

// LoginResult is the backend answer to a successful login.
type LoginResult struct {
	Tokens             TokenPair `json:"tokens"`
	User               *User     `json:"user"`
	MustChangePassword bool      `json:"must_change_password"`
}

// AccessStatus is the backend verdict on the role's access window.
type AccessStatus struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// State is the lifecycle position of a Store.
type State int

// Store states.
const (
	StateIdle State = iota
	StateLoggingIn
	StateAuthenticated
	StateLoginFailed
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoggingIn:
		return "logging_in"
	case StateAuthenticated:
		return "authenticated"
	case StateLoginFailed:
		return "login_failed"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of a Store's state.
type Snapshot struct {
	State              State
	User               *User
	MustChangePassword bool
	Initializing       bool
	// Reason explains the last failed login.
	Reason string
	// Notice is the server message of a forced logout, kept until acknowledged.
	Notice string
}

// Authenticated reports whether the snapshot carries a logged in user.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.User != nil
}
