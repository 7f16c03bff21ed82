package enums

import "fmt"

// UserRole is the application role stored on a profile row.
type UserRole string

const (
	UserRoleAdmin   UserRole = "admin"
	UserRoleBrand   UserRole = "brand"
	UserRoleEndUser UserRole = "end_user"
	UserRoleGuest   UserRole = "guest_user"
)

var validUserRoles = []UserRole{
	UserRoleAdmin,
	UserRoleBrand,
	UserRoleEndUser,
	UserRoleGuest,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known UserRole.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// SelfAssignable reports whether a sign-up form may request this role.
func (r UserRole) SelfAssignable() bool {
	return r == UserRoleBrand || r == UserRoleEndUser
}

// ParseUserRole converts raw input into a UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
