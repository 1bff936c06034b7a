package engine

import (
	"context"

	"github.com/avigil/guardlab/internal/domain"
)

// Engine drives the container runtime backing lab environments. Docker is
// the production implementation; Fake stands in for tests and for running
// the server without a runtime attached.
type Engine interface {
	Ping(ctx context.Context) error
	EnsureNetwork(ctx context.Context, name, subnet string) error
	RemoveNetwork(ctx context.Context, name string) error
	RunContainer(ctx context.Context, spec domain.ContainerSpec) error
	RemoveContainer(ctx context.Context, name string) error
	ContainerStatus(ctx context.Context, name string) (string, error)
	ListContainers(ctx context.Context, environment string) ([]domain.ContainerState, error)
}

// mapContainerStatus folds runtime state strings into the status values
// reported to callers. Unknown states pass through unchanged.
func mapContainerStatus(state string) string {
	switch state {
	case "running":
		return domain.ContainerStatusRunning
	case "exited", "dead":
		return domain.ContainerStatusExited
	case "created":
		return domain.ContainerStatusCreated
	default:
		return state
	}
}
