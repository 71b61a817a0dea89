package capability

import (
	"fmt"
	"strings"
)

// Role is a capability granted to an address on top of its registry profile.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleJobManager    Role = "job-manager"
	RoleEscrowManager Role = "escrow-manager"
	// RoleModerator arbitrates job disputes and toggles identity activity.
	RoleModerator Role = "moderator"
)

// Roles lists every grantable role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleJobManager, RoleEscrowManager, RoleModerator}
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleJobManager, RoleEscrowManager, RoleModerator:
		return true
	default:
		return false
	}
}

func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("capability: invalid role %q", raw)
	}
	return role, nil
}
