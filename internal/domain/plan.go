package domain

// Plan is the rendered desired state of one environment: the network plus an
// ordered list of container specs. This is what gets applied to the engine
// and what provision runs snapshot.
type Plan struct {
	Environment string          `json:"environment"`
	Network     string          `json:"network"`
	Subnet      string          `json:"subnet,omitempty"`
	Containers  []ContainerSpec `json:"containers"`
}

// ContainerSpec describes one container as the engine should run it.
// Ordering matters: the master spec always renders before workers and agents
// so dependents can resolve it at start.
type ContainerSpec struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Network string            `json:"network"`
	Address string            `json:"address,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Ports   []string          `json:"ports,omitempty"`
}

// ContainerState describes a managed container as observed in the runtime.
type ContainerState struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Status  string            `json:"status"`
	Address string            `json:"address,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Action kinds emitted by a plan diff.
const (
	ActionCreate  = "create"
	ActionReplace = "replace"
	ActionRemove  = "remove"
)

// Action is one step needed to move the runtime toward the rendered plan.
// Spec is nil for remove actions.
type Action struct {
	Kind     string         `json:"kind"`
	Hostname string         `json:"hostname"`
	Spec     *ContainerSpec `json:"spec,omitempty"`
}

// PlanResponse pairs a rendered plan with the actions a provisioning pass
// would take. An empty action list means the environment is converged.
type PlanResponse struct {
	Plan    *Plan    `json:"plan"`
	Actions []Action `json:"actions"`
}

// Container engine status values. NotCreated is reported when no container
// exists for a declared host.
const (
	ContainerStatusRunning    = "running"
	ContainerStatusExited     = "exited"
	ContainerStatusCreated    = "created"
	ContainerStatusNotCreated = "not_created"
)

// Environment variables injected into every managed container.
const (
	EnvVarRole       = "GUARDLAB_ROLE"
	EnvVarMasterAddr = "GUARDLAB_MASTER_ADDR"
	EnvVarHostname   = "GUARDLAB_HOSTNAME"
)

// Labels applied to every managed container and network.
const (
	LabelManagedBy   = "managed-by"
	LabelManagedName = "guardlab"
	LabelEnvironment = "guardlab-env"
	LabelRole        = "guardlab-role"
	LabelSpecHash    = "guardlab-spec-hash"
)
