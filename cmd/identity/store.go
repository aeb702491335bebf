package identity

import (
	"context"
	"strings"
	"time"
)

// Role is the marketplace role of an account.
type Role string

const (
	RoleDriver   Role = "driver"
	RoleEmployer Role = "employer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RoleEmployer, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole parses a stored or wire role value.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// ProfileKind selects a role-specific profile table.
type ProfileKind string

const (
	ProfileDriver   ProfileKind = "driver"
	ProfileEmployer ProfileKind = "employer"
)

// Account is the canonical marketplace identity.
type Account struct {
	ID          string
	Role        Role
	DisplayName string
	AvatarRef   *string
	IsActive    bool
	CreatedAt   time.Time
}

// Profile is a role-specific profile owned by an account.
// Some UI surfaces only know the profile id.
type Profile struct {
	ID        string
	Kind      ProfileKind
	AccountID string
}

// Participant is the public attribute set stamped on conversations and messages.
type Participant struct {
	AccountID   string
	Role        Role
	DisplayName string
	AvatarRef   string
}

// Store is the account store read boundary used by the Resolver.
type Store interface {
	// GetAccount returns ErrNotFound for unknown ids.
	GetAccount(ctx context.Context, accountID string) (Account, error)

	// GetProfile looks the id up in every role-specific profile table.
	// Returns ErrNotFound when no profile carries that id.
	GetProfile(ctx context.Context, profileID string) (Profile, error)
}
