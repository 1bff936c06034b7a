package domain

import "time"

// Role is the cluster role a host plays. Exactly three roles exist.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
	RoleAgent  Role = "agent"
)

// ValidRole reports whether r is one of the three known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleMaster, RoleWorker, RoleAgent:
		return true
	}
	return false
}

// RoleAssignment binds a hostname to a role within an environment.
// A hostname carries at most one role; assigning again replaces the binding.
// Vars are rendered into the container environment at provision time.
type RoleAssignment struct {
	ID            string    `json:"id" db:"id"`
	EnvironmentID string    `json:"environment_id" db:"environment_id"`
	Hostname      string    `json:"hostname" db:"hostname"`
	Role          Role      `json:"role" db:"role"`
	Vars          StringMap `json:"vars,omitempty" db:"vars"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// AssignRoleRequest is the request body for assigning a role to a hostname.
type AssignRoleRequest struct {
	Role Role              `json:"role"`
	Vars map[string]string `json:"vars,omitempty"`
}
