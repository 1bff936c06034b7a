package validation

import (
	"strconv"

	"github.com/avigil/guardlab/internal/domain"
)

// Role counts a provisionable topology must declare.
const (
	RequiredMasters = 1
	RequiredWorkers = 2
	RequiredAgents  = 2
)

// ValidateTopology checks that an environment's hosts and role assignments
// form a provisionable cluster: every assignment points at a declared host,
// every host holds a role, and the shape is exactly one master, two workers,
// and two agents. Called at render time, not on individual CRUD writes, so
// a topology can be assembled incrementally.
func ValidateTopology(hosts []*domain.Host, roles []*domain.RoleAssignment) ValidationErrors {
	var errs ValidationErrors

	hostnames := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		hostnames[h.Hostname] = true
	}

	counts := make(map[domain.Role]int)
	assigned := make(map[string]bool, len(roles))
	for _, ra := range roles {
		if !hostnames[ra.Hostname] {
			errs.Add("roles", ra.Hostname, "role assigned to undeclared host")
			continue
		}
		assigned[ra.Hostname] = true
		if !domain.ValidRole(ra.Role) {
			errs.Add("roles", string(ra.Role), "unknown role")
			continue
		}
		counts[ra.Role]++
	}

	for _, h := range hosts {
		if !assigned[h.Hostname] {
			errs.Add("hosts", h.Hostname, "host has no role assignment")
		}
	}

	if counts[domain.RoleMaster] != RequiredMasters {
		errs.Add("topology", strconv.Itoa(counts[domain.RoleMaster]),
			"topology requires exactly "+strconv.Itoa(RequiredMasters)+" master")
	}
	if counts[domain.RoleWorker] != RequiredWorkers {
		errs.Add("topology", strconv.Itoa(counts[domain.RoleWorker]),
			"topology requires exactly "+strconv.Itoa(RequiredWorkers)+" workers")
	}
	if counts[domain.RoleAgent] != RequiredAgents {
		errs.Add("topology", strconv.Itoa(counts[domain.RoleAgent]),
			"topology requires exactly "+strconv.Itoa(RequiredAgents)+" agents")
	}

	return errs
}
