package domain

import "time"

// Environment represents one lab environment: a set of container hosts and
// their role assignments sharing a single named network.
type Environment struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Network     string    `json:"network" db:"network"`         // Docker network name
	Subnet      string    `json:"subnet,omitempty" db:"subnet"` // Optional CIDR for static addressing
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CreateEnvironmentRequest is the request body for creating an environment.
type CreateEnvironmentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Network     string `json:"network,omitempty"` // Defaults to <name>-net
	Subnet      string `json:"subnet,omitempty"`
}

// UpdateEnvironmentRequest is the request body for updating an environment.
type UpdateEnvironmentRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Network     *string `json:"network,omitempty"`
	Subnet      *string `json:"subnet,omitempty"`
}
