package model

import (
	"strings"
	"time"
)

// Role is the closed set of account roles. Values are stored upper-case in
// the `users.role` column and embedded verbatim in token claims.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleVolunteer Role = "VOLUNTEER"
	RoleSponsor   Role = "SPONSOR"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleVolunteer, RoleSponsor}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// User represents an application user record as stored in the `users`
// table. The auth subsystem never creates or deletes users; it reads them
// and writes the verified flag.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique, lower-cased email address.
//	PasswordHash – bcrypt hashed password.
//	Role         – one of ADMIN, VOLUNTEER or SPONSOR.
//	Permissions  – explicit permission list; nil means "use role defaults".
//	IsVerified   – whether the email address has been confirmed.
//	LockedUntil  – lock-state column; not enforced by the default lockout policy.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64
	Email        string
	PasswordHash string
	Role         Role
	Permissions  []string
	IsVerified   bool
	LockedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PermissionRole returns the role used for permission checks.
func (u User) PermissionRole() Role { return u.Role }

// PermissionOverrides returns the explicit permission list, or nil.
func (u User) PermissionOverrides() []string { return u.Permissions }
