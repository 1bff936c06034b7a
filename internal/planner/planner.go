// Package planner renders an environment's declared hosts and role
// assignments into a concrete container plan, and computes the actions
// needed to converge the runtime toward it.
package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/storage"
	"github.com/avigil/guardlab/internal/validation"
)

// Planner renders environments into container plans.
type Planner struct {
	store storage.Storage
}

// New creates a new Planner.
func New(store storage.Storage) *Planner {
	return &Planner{store: store}
}

// Render loads an environment's hosts and role assignments and produces its
// container plan. The topology must pass validation: exactly one master, two
// workers, and two agents, every host carrying a role. The master renders
// first so dependents can resolve it at start; workers and agents follow in
// hostname order.
func (p *Planner) Render(ctx context.Context, environmentID string) (*domain.Plan, error) {
	env, err := p.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	hosts, err := p.store.ListHosts(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	roles, err := p.store.ListRoleAssignments(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	if errs := validation.ValidateTopology(hosts, roles); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errs)
	}

	roleByHost := make(map[string]*domain.RoleAssignment, len(roles))
	var master *domain.Host
	for _, ra := range roles {
		roleByHost[ra.Hostname] = ra
	}
	for _, h := range hosts {
		if roleByHost[h.Hostname].Role == domain.RoleMaster {
			master = h
		}
	}

	// Dependents reach the master by its static address when one is
	// declared, otherwise by container name over the shared network.
	masterAddr := master.Address
	if masterAddr == "" {
		masterAddr = master.Hostname
	}

	containers := make([]domain.ContainerSpec, 0, len(hosts))
	for _, h := range hosts {
		ra := roleByHost[h.Hostname]

		vars := make(map[string]string, len(ra.Vars)+3)
		for k, v := range ra.Vars {
			vars[k] = v
		}
		vars[domain.EnvVarRole] = string(ra.Role)
		vars[domain.EnvVarHostname] = h.Hostname
		if ra.Role != domain.RoleMaster {
			vars[domain.EnvVarMasterAddr] = masterAddr
		}

		containers = append(containers, domain.ContainerSpec{
			Name:    h.Hostname,
			Image:   h.Image,
			Network: env.Network,
			Address: h.Address,
			Env:     vars,
			Labels: map[string]string{
				domain.LabelManagedBy:   domain.LabelManagedName,
				domain.LabelEnvironment: env.Name,
				domain.LabelRole:        string(ra.Role),
			},
			Ports: h.Ports,
		})
	}

	sort.SliceStable(containers, func(i, j int) bool {
		ri := roleRank(containers[i].Labels[domain.LabelRole])
		rj := roleRank(containers[j].Labels[domain.LabelRole])
		if ri != rj {
			return ri < rj
		}
		return containers[i].Name < containers[j].Name
	})

	return &domain.Plan{
		Environment: env.Name,
		Network:     env.Network,
		Subnet:      env.Subnet,
		Containers:  containers,
	}, nil
}

func roleRank(role string) int {
	switch domain.Role(role) {
	case domain.RoleMaster:
		return 0
	case domain.RoleWorker:
		return 1
	default:
		return 2
	}
}
