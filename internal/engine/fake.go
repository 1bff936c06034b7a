package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avigil/guardlab/internal/domain"
)

// Fake is an in-memory engine for tests and for running the server without a
// container runtime. Containers exist only as recorded specs.
type Fake struct {
	mu         sync.RWMutex
	networks   map[string]string
	containers map[string]*fakeContainer
	failures   map[string]error
}

type fakeContainer struct {
	spec   domain.ContainerSpec
	status string
}

// Ensure Fake implements Engine.
var _ Engine = (*Fake)(nil)

// NewFake creates an empty fake engine.
func NewFake() *Fake {
	return &Fake{
		networks:   make(map[string]string),
		containers: make(map[string]*fakeContainer),
		failures:   make(map[string]error),
	}
}

func (f *Fake) Ping(ctx context.Context) error { return nil }

func (f *Fake) EnsureNetwork(ctx context.Context, name, subnet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = subnet
	return nil
}

func (f *Fake) RemoveNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.networks, name)
	return nil
}

func (f *Fake) RunContainer(ctx context.Context, spec domain.ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[spec.Name]; ok {
		return err
	}
	if _, ok := f.networks[spec.Network]; !ok {
		return fmt.Errorf("network %s does not exist", spec.Network)
	}
	f.containers[spec.Name] = &fakeContainer{spec: spec, status: domain.ContainerStatusRunning}
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	return nil
}

func (f *Fake) ContainerStatus(ctx context.Context, name string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.containers[name]
	if !ok {
		return domain.ContainerStatusNotCreated, nil
	}
	return c.status, nil
}

func (f *Fake) ListContainers(ctx context.Context, environment string) ([]domain.ContainerState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	states := make([]domain.ContainerState, 0)
	for _, c := range f.containers {
		if c.spec.Labels[domain.LabelEnvironment] != environment {
			continue
		}
		states = append(states, domain.ContainerState{
			ID:      "fake-" + c.spec.Name,
			Name:    c.spec.Name,
			Image:   c.spec.Image,
			Status:  c.status,
			Address: c.spec.Address,
			Labels:  c.spec.Labels,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states, nil
}

// SetStatus overrides the recorded status of a container.
func (f *Fake) SetStatus(name, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.status = status
	}
}

// FailOn makes RunContainer return err for the named container. A nil err
// clears the injected failure.
func (f *Fake) FailOn(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, name)
		return
	}
	f.failures[name] = err
}

// HasNetwork reports whether the named network exists.
func (f *Fake) HasNetwork(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.networks[name]
	return ok
}
