package accounts

// roleHierarchy orders roles from least to most privileged.
var roleHierarchy = map[UserRole]int{
	RoleCustomer: 0,
	RoleStaff:    1,
	RoleAdmin:    2,
}

// AllRoles returns the predefined roles in hierarchical order.
func AllRoles() []UserRole {
	return []UserRole{
		RoleCustomer,
		RoleStaff,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a known role.
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	_, ok := roleHierarchy[role]
	return role, ok
}

// RoleIsValid checks if the role is one of the predefined roles.
func RoleIsValid(role UserRole) bool {
	_, ok := roleHierarchy[role]
	return ok
}

// RoleIsAtLeast checks if role meets the minimum required level. Unknown
// roles never satisfy any requirement.
func RoleIsAtLeast(role, minRole UserRole) bool {
	currentLevel, ok := roleHierarchy[role]
	if !ok {
		return false
	}
	minLevel, ok := roleHierarchy[minRole]
	if !ok {
		return false
	}
	return currentLevel >= minLevel
}

// RoleCanManageAccounts reports whether the role can administer other
// accounts, e.g. suspend or reinstate them.
func RoleCanManageAccounts(role UserRole) bool {
	return RoleIsAtLeast(role, RoleStaff)
}
