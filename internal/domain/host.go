package domain

import "time"

// Host represents one declared container host in an environment.
// Hostnames are unique within an environment. Host records are declarative:
// provisioning replaces the running container whenever the record changes.
type Host struct {
	ID            string     `json:"id" db:"id"`
	EnvironmentID string     `json:"environment_id" db:"environment_id"`
	Hostname      string     `json:"hostname" db:"hostname"`
	Image         string     `json:"image" db:"image"`
	Address       string     `json:"address,omitempty" db:"address"` // Optional static IP on the environment network
	Ports         StringList `json:"ports,omitempty" db:"ports"`     // host:container[/proto] bindings
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// CreateHostRequest is the request body for declaring a host.
type CreateHostRequest struct {
	Hostname string   `json:"hostname"`
	Image    string   `json:"image"`
	Address  string   `json:"address,omitempty"`
	Ports    []string `json:"ports,omitempty"`
}

// UpdateHostRequest is the request body for updating a host declaration.
type UpdateHostRequest struct {
	Image   *string   `json:"image,omitempty"`
	Address *string   `json:"address,omitempty"`
	Ports   *[]string `json:"ports,omitempty"`
}

// HostStatus pairs a declared host with what the engine reports for it.
type HostStatus struct {
	Hostname  string `json:"hostname"`
	Role      Role   `json:"role,omitempty"`
	Image     string `json:"image"`
	Container string `json:"container,omitempty"` // Engine container ID, empty when not created
	Status    string `json:"status"`              // running, exited, created, not_created
	Address   string `json:"address,omitempty"`
}
