package auth

// Role is the single privilege level carried by a session.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
	RoleB2B      Role = "B2B"
	RoleUser     Role = "USER"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleManager, RoleEmployee, RoleB2B, RoleUser}

// ParseRole maps a claim value onto a known role. Matching is exact.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	for _, known := range Roles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Session is the authenticated caller of a single request.
type Session struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`

	// Token is the raw bearer the session was resolved from.
	Token string `json:"-"`
}
