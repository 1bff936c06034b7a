package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const dockerAPIVersion = "1.47"

// Docker implements Engine against a Docker daemon.
type Docker struct {
	cli    *client.Client
	logger *slog.Logger
}

// Ensure Docker implements Engine.
var _ Engine = (*Docker)(nil)

// NewDocker creates an engine connected to a Docker daemon. An empty host
// falls back to the standard DOCKER_HOST environment and the default socket.
func NewDocker(host string, logger *slog.Logger) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithVersion(dockerAPIVersion)}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}
	return &Docker{cli: cli, logger: logger}, nil
}

// Ping verifies the daemon is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	return nil
}

// EnsureNetwork creates the named bridge network if it does not already exist.
func (d *Docker) EnsureNetwork(ctx context.Context, name, subnet string) error {
	networks, err := d.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.KeyValuePair{Key: "name", Value: name}),
	})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	for _, nw := range networks {
		// The name filter matches substrings.
		if nw.Name == name {
			return nil
		}
	}

	opts := network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{domain.LabelManagedBy: domain.LabelManagedName},
	}
	if subnet != "" {
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		}
	}

	if _, err := d.cli.NetworkCreate(ctx, name, opts); err != nil {
		return fmt.Errorf("creating network %s: %w", name, err)
	}
	d.logger.Info("network created", "network", name, "subnet", subnet)
	return nil
}

// RemoveNetwork removes the named network. Missing networks are not an error.
func (d *Docker) RemoveNetwork(ctx context.Context, name string) error {
	if err := d.cli.NetworkRemove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing network %s: %w", name, err)
	}
	return nil
}

// RunContainer pulls the image, then creates and starts a container from the
// given spec, attached to its network.
func (d *Docker) RunContainer(ctx context.Context, spec domain.ContainerSpec) error {
	reader, err := d.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", spec.Image, err)
	}
	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		reader.Close()
		return fmt.Errorf("pulling image %s: %w", spec.Image, err)
	}
	reader.Close()

	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return fmt.Errorf("parsing port bindings for %s: %w", spec.Name, err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	endpoint := &network.EndpointSettings{}
	if spec.Address != "" {
		endpoint.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: spec.Address}
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Hostname:     spec.Name,
			Image:        spec.Image,
			Env:          env,
			Labels:       spec.Labels,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: endpoint,
			},
		},
		&v1.Platform{},
		spec.Name,
	)
	if err != nil {
		return fmt.Errorf("creating container %s: %w", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", spec.Name, err)
	}

	d.logger.Info("container started", "name", spec.Name, "image", spec.Image, "network", spec.Network)
	return nil
}

// RemoveContainer stops and removes the named container. Missing containers
// are not an error.
func (d *Docker) RemoveContainer(ctx context.Context, name string) error {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.KeyValuePair{Key: "name", Value: name}),
	})
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}

	for _, c := range summaries {
		if !hasName(c.Names, name) {
			continue
		}
		if err := d.cli.ContainerStop(ctx, c.ID, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("stopping container %s: %w", name, err)
		}
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("removing container %s: %w", name, err)
		}
		d.logger.Info("container removed", "name", name)
	}
	return nil
}

// ContainerStatus reports the status of the named container, or
// ContainerStatusNotCreated if no such container exists.
func (d *Docker) ContainerStatus(ctx context.Context, name string) (string, error) {
	inspect, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.ContainerStatusNotCreated, nil
		}
		return "", fmt.Errorf("inspecting container %s: %w", name, err)
	}
	if inspect.State == nil {
		return domain.ContainerStatusNotCreated, nil
	}
	return mapContainerStatus(inspect.State.Status), nil
}

// ListContainers returns all managed containers belonging to the named
// environment, matched by label.
func (d *Docker) ListContainers(ctx context.Context, environment string) ([]domain.ContainerState, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.KeyValuePair{Key: "label", Value: domain.LabelManagedBy + "=" + domain.LabelManagedName},
			filters.KeyValuePair{Key: "label", Value: domain.LabelEnvironment + "=" + environment},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	states := make([]domain.ContainerState, 0, len(summaries))
	for _, c := range summaries {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		var address string
		if c.NetworkSettings != nil {
			for _, ep := range c.NetworkSettings.Networks {
				if ep.IPAddress != "" {
					address = ep.IPAddress
					break
				}
			}
		}
		states = append(states, domain.ContainerState{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			Status:  mapContainerStatus(c.State),
			Address: address,
			Labels:  c.Labels,
		})
	}
	return states, nil
}

func hasName(names []string, want string) bool {
	for _, n := range names {
		if strings.TrimPrefix(n, "/") == want {
			return true
		}
	}
	return false
}
