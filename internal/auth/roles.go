package auth

// Role is the caller's capability level carried in the token.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// roleRanks orders the ladder; unknown roles rank below every known one.
var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a claim string onto a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	_, known := roleRanks[role]
	if !known {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role meets or exceeds required.
func RoleAtLeast(role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
