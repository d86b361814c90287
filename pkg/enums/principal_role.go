package enums

import "fmt"

// PrincipalRole describes the privilege level of an authenticated operator.
type PrincipalRole string

const (
	PrincipalRoleCashier PrincipalRole = "cashier"
	PrincipalRoleManager PrincipalRole = "manager"
	PrincipalRoleAdmin   PrincipalRole = "admin"
)

var validPrincipalRoles = []PrincipalRole{
	PrincipalRoleCashier,
	PrincipalRoleManager,
	PrincipalRoleAdmin,
}

// String implements fmt.Stringer.
func (p PrincipalRole) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PrincipalRole.
func (p PrincipalRole) IsValid() bool {
	for _, candidate := range validPrincipalRoles {
		if candidate == p {
			return true
		}
	}
	return false
}

// CanApproveRefunds reports whether the role carries refund-approval privilege.
func (p PrincipalRole) CanApproveRefunds() bool {
	return p == PrincipalRoleManager || p == PrincipalRoleAdmin
}

// ParsePrincipalRole converts raw input into a PrincipalRole.
func ParsePrincipalRole(value string) (PrincipalRole, error) {
	for _, candidate := range validPrincipalRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid principal role %q", value)
}
