package registry

import "strings"

// Role is a named capability tag.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleIssuer Role = "ISSUER"
)

// maxRoleLen matches the width of a 32-byte role identifier.
const maxRoleLen = 32

// ParseRole normalizes a role name to upper case.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether r is a well-formed role name: 1 to 32 characters
// drawn from A-Z, 0-9 and underscore.
func (r Role) Valid() bool {
	if len(r) == 0 || len(r) > maxRoleLen {
		return false
	}
	for _, c := range r {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}

func (r Role) String() string { return string(r) }
