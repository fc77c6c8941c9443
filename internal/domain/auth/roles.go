package auth

import "strings"

// Role is the caller's organisational role as carried by the identity token.
type Role string

const (
	RoleHR       Role = "hr"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// ParseRole accepts the role names issued by the identity provider, ignoring
// case and surrounding whitespace.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleHR:
		return RoleHR, true
	case RoleManager:
		return RoleManager, true
	case RoleEmployee:
		return RoleEmployee, true
	default:
		return "", false
	}
}

func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

func (r Role) String() string {
	return string(r)
}

// UserContext is the authenticated caller attached to a request.
type UserContext struct {
	UserID string
	Role   Role
}
