package auth

import (
	"errors"
	"regexp"
	"time"
)

// Usernames: 1-64 characters drawn from letters, digits, dot, hyphen
// and underscore. The length bound is part of the pattern, but checked
// separately too so a multi-megabyte string fails before the regexp runs.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername reports whether username is acceptable for an account.
func IsValidUsername(username string) bool {
	return len(username) <= 64 && usernamePattern.MatchString(username)
}

// PrincipalKind discriminates the closed set of principal variants.
type PrincipalKind string

const (
	// KindAnonymous is an unauthenticated caller. Anonymous principals may
	// subscribe to public dashboards but hold no other capability.
	KindAnonymous PrincipalKind = "anonymous"

	// KindDevice is an authenticated kit. A device may publish measurements
	// for itself and subscribe to its own stream.
	KindDevice PrincipalKind = "device"

	// KindPerson is an authenticated user account. People subscribe to
	// streams of kits they are members of (or public ones); they never publish.
	KindPerson PrincipalKind = "person"
)

// Principal is a resolved identity, created once per connection or request.
// Exactly one of the id fields is populated, matching Kind. The zero value
// is anonymous.
type Principal struct {
	Kind PrincipalKind

	// KitID and KitSerial are set for device principals.
	KitID     string
	KitSerial string

	// UserID is set for person principals.
	UserID string
}

// Anonymous returns the anonymous principal.
func Anonymous() Principal {
	return Principal{Kind: KindAnonymous}
}

// Device returns a device principal for the given kit.
func Device(kitID, serial string) Principal {
	return Principal{Kind: KindDevice, KitID: kitID, KitSerial: serial}
}

// Person returns a person principal for the given user.
func Person(userID string) Principal {
	return Principal{Kind: KindPerson, UserID: userID}
}

// IsDevice reports whether the principal is an authenticated kit.
func (p Principal) IsDevice() bool { return p.Kind == KindDevice }

// IsPerson reports whether the principal is an authenticated user.
func (p Principal) IsPerson() bool { return p.Kind == KindPerson }

// IsAnonymous reports whether the principal is unauthenticated.
func (p Principal) IsAnonymous() bool {
	return p.Kind == KindAnonymous || p.Kind == ""
}

// User is a person account. The password hash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sentinel errors shared across the auth surface.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username format")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrIdentityConflict   = errors.New("subject id exists in both identity domains")
)
