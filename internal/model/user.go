package model

import (
    "strings"
    "time"
)

// Role is the closed set of staff roles an identity can hold.  It is
// stored as its string value in the `users.role` column and in the
// "role" claim of issued tokens.
type Role string

const (
    RoleAdmin      Role = "admin"      // full access, including configuration pages
    RoleReception  Role = "reception"  // front desk: members, access control, schedules
    RoleInstructor Role = "instructor" // teaching staff
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleAdmin, RoleReception, RoleInstructor}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
    r := Role(strings.ToLower(strings.TrimSpace(s)))
    if !r.Valid() {
        return "", false
    }
    return r, true
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
    switch r {
    case RoleAdmin, RoleReception, RoleInstructor:
        return true
    default:
        return false
    }
}

// Satisfies reports whether an identity holding r may enter a route that
// requires the given role.  Roles are not hierarchical: only an exact
// match passes, and an unknown required role never passes.
func (r Role) Satisfies(required Role) bool {
    switch required {
    case RoleAdmin:
        return r == RoleAdmin
    case RoleReception:
        return r == RoleReception
    case RoleInstructor:
        return r == RoleInstructor
    default:
        return false
    }
}

func (r Role) String() string { return string(r) }

// User represents an application identity as stored in the `users`
// table.  The email is unique and always stored lower-cased.  Users are
// never deleted by the auth flow; deactivation flips IsActive.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hashed password.
//  DisplayName  – name shown in the staff UI.
//  Role         – one of Roles.
//  IsActive     – inactive accounts cannot log in.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           uint64    // users.id
    Email        string    // users.email
    PasswordHash string    // users.password_hash
    DisplayName  string    // users.display_name
    Role         Role      // users.role
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
}

// NormalizeEmail lower-cases and trims an email so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
    return strings.ToLower(strings.TrimSpace(email))
}
