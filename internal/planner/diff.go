package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/avigil/guardlab/internal/domain"
)

// SpecHash returns a stable fingerprint of a container spec. The hash label
// itself is excluded so a spec hashes the same before and after labeling.
func SpecHash(spec domain.ContainerSpec) string {
	if spec.Labels != nil {
		labels := make(map[string]string, len(spec.Labels))
		for k, v := range spec.Labels {
			if k == domain.LabelSpecHash {
				continue
			}
			labels[k] = v
		}
		spec.Labels = labels
	}
	data, _ := json.Marshal(spec)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Diff compares a rendered plan against the observed runtime state and
// returns the actions needed to converge, in apply order: creates and
// replaces in plan order, then removes for containers the plan no longer
// declares. A container whose spec hash matches and which is running needs
// no action.
func Diff(plan *domain.Plan, observed []domain.ContainerState) []domain.Action {
	observedByName := make(map[string]domain.ContainerState, len(observed))
	for _, o := range observed {
		observedByName[o.Name] = o
	}

	desired := make(map[string]bool, len(plan.Containers))
	actions := make([]domain.Action, 0)

	for _, spec := range plan.Containers {
		desired[spec.Name] = true
		hash := SpecHash(spec)

		labeled := spec
		labeled.Labels = make(map[string]string, len(spec.Labels)+1)
		for k, v := range spec.Labels {
			labeled.Labels[k] = v
		}
		labeled.Labels[domain.LabelSpecHash] = hash

		o, exists := observedByName[spec.Name]
		if !exists {
			actions = append(actions, domain.Action{Kind: domain.ActionCreate, Hostname: spec.Name, Spec: &labeled})
			continue
		}
		if o.Labels[domain.LabelSpecHash] != hash || o.Status != domain.ContainerStatusRunning {
			actions = append(actions, domain.Action{Kind: domain.ActionReplace, Hostname: spec.Name, Spec: &labeled})
		}
	}

	stale := make([]string, 0)
	for name := range observedByName {
		if !desired[name] {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		actions = append(actions, domain.Action{Kind: domain.ActionRemove, Hostname: name})
	}

	return actions
}
