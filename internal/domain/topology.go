package domain

// EnvironmentTopology is the complete declared state of an environment for
// bulk operations. PUT-ing a topology replaces all hosts and role assignments
// in one transaction, which keeps environment definitions declarative.
type EnvironmentTopology struct {
	Hosts []CreateHostRequest `json:"hosts,omitempty"`
	Roles []TopologyRole      `json:"roles,omitempty"`
}

// TopologyRole is a role assignment inside a topology document.
type TopologyRole struct {
	Hostname string            `json:"hostname"`
	Role     Role              `json:"role"`
	Vars     map[string]string `json:"vars,omitempty"`
}

// Default identifiers for the stock five-host cluster.
const (
	DefaultNetwork    = "lab-net"
	DefaultMasterHost = "lab-master"
)

// DefaultTopology returns the stock cluster shape: one master, two workers
// and two agents sharing one network, all running the given image.
func DefaultTopology(image string) EnvironmentTopology {
	hosts := []string{DefaultMasterHost, "lab-worker1", "lab-worker2", "lab-agent1", "lab-agent2"}
	roles := []Role{RoleMaster, RoleWorker, RoleWorker, RoleAgent, RoleAgent}

	t := EnvironmentTopology{}
	for i, h := range hosts {
		t.Hosts = append(t.Hosts, CreateHostRequest{Hostname: h, Image: image})
		t.Roles = append(t.Roles, TopologyRole{Hostname: h, Role: roles[i]})
	}
	return t
}
