package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/engine"
	"github.com/avigil/guardlab/internal/events"
	"github.com/avigil/guardlab/internal/metrics"
	"github.com/avigil/guardlab/internal/planner"
	"github.com/avigil/guardlab/internal/storage"
)

// healthPollInterval is how often a provisioning pass re-checks container
// states while waiting for the environment to come up.
const healthPollInterval = time.Second

// Options tune how the ProvisionService applies plans.
type Options struct {
	Debounce      time.Duration // Delay before an auto-triggered pass runs
	AutoProvision bool          // Provision automatically on topology changes
	HealthTimeout time.Duration // How long to wait for containers to reach running
	Parallelism   int           // Concurrent engine actions per pass
}

// ProvisionService converges environments toward their rendered plans.
type ProvisionService struct {
	store     storage.Storage
	planner   *planner.Planner
	engine    engine.Engine
	publisher events.Publisher
	logger    *slog.Logger
	opts      Options

	mu     sync.Mutex
	timers map[string]*time.Timer // Pending debounced passes, keyed by environment ID
	locks  map[string]*sync.Mutex // Per-environment serialization
}

// NewProvisionService creates a new ProvisionService.
func NewProvisionService(store storage.Storage, eng engine.Engine, publisher events.Publisher, logger *slog.Logger, opts Options) *ProvisionService {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 60 * time.Second
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 2
	}
	return &ProvisionService{
		store:     store,
		planner:   planner.New(store),
		engine:    eng,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		timers:    make(map[string]*time.Timer),
		locks:     make(map[string]*sync.Mutex),
	}
}

// TriggerProvision schedules a debounced provisioning pass for an environment.
// Multiple triggers within the debounce window collapse into a single pass.
func (s *ProvisionService) TriggerProvision(environmentID string) {
	if !s.opts.AutoProvision {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel existing timer
	if timer, ok := s.timers[environmentID]; ok {
		timer.Stop()
	}

	s.timers[environmentID] = time.AfterFunc(s.opts.Debounce, func() {
		s.mu.Lock()
		delete(s.timers, environmentID)
		s.mu.Unlock()

		lock := s.envLock(environmentID)
		lock.Lock()
		defer lock.Unlock()

		ctx := context.Background()
		if _, err := s.doProvision(ctx, environmentID); err != nil {
			s.logger.Error("auto-provision failed", "environment_id", environmentID, "error", err)
		}
	})
}

// Plan renders the desired state of an environment and diffs it against the
// runtime without applying anything.
func (s *ProvisionService) Plan(ctx context.Context, environmentID string) (*domain.Plan, []domain.Action, error) {
	plan, err := s.planner.Render(ctx, environmentID)
	if err != nil {
		return nil, nil, err
	}
	observed, err := s.engine.ListContainers(ctx, plan.Environment)
	if err != nil {
		return nil, nil, err
	}
	return plan, planner.Diff(plan, observed), nil
}

// Provision runs an immediate provisioning pass. A pass already in flight for
// the same environment makes it fail with ErrProvisionInProgress.
func (s *ProvisionService) Provision(ctx context.Context, environmentID string) (*domain.ProvisionResponse, error) {
	s.mu.Lock()
	// Cancel any pending debounced pass
	if timer, ok := s.timers[environmentID]; ok {
		timer.Stop()
		delete(s.timers, environmentID)
	}
	s.mu.Unlock()

	lock := s.envLock(environmentID)
	if !lock.TryLock() {
		return nil, domain.ErrProvisionInProgress
	}
	defer lock.Unlock()

	return s.doProvision(ctx, environmentID)
}

// doProvision performs the actual provisioning pass. Callers hold the
// environment lock.
func (s *ProvisionService) doProvision(ctx context.Context, environmentID string) (*domain.ProvisionResponse, error) {
	started := time.Now()

	// Render the plan
	plan, err := s.planner.Render(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}

	// Get next run number
	nextRun := 1
	latest, err := s.store.GetLatestProvisionRun(ctx, environmentID)
	if err == nil {
		nextRun = latest.RunNumber + 1
	} else if err != domain.ErrNotFound {
		return nil, err
	}

	// Create run record
	run := &domain.ProvisionRun{
		ID:            uuid.New().String(),
		EnvironmentID: environmentID,
		RunNumber:     nextRun,
		RenderedPlan:  string(planJSON),
		Status:        domain.RunStatusPending,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateProvisionRun(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("provisioning environment",
		"environment", plan.Environment, "run", run.RunNumber, "containers", len(plan.Containers))

	// Apply the plan
	results, applyErr := s.apply(ctx, plan)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}

	switch {
	case applyErr != nil:
		run.Status = domain.RunStatusFailed
		run.Error = applyErr.Error()
	case failed == len(results) && failed > 0:
		run.Status = domain.RunStatusFailed
		run.Error = fmt.Sprintf("%d of %d actions failed", failed, len(results))
	case failed > 0:
		run.Status = domain.RunStatusPartial
		run.Error = fmt.Sprintf("%d of %d actions failed", failed, len(results))
	default:
		if err := s.awaitRunning(ctx, plan); err != nil {
			run.Status = domain.RunStatusPartial
			run.Error = err.Error()
		} else {
			run.Status = domain.RunStatusSuccess
		}
	}

	// Record outcome
	now := time.Now()
	run.Results = results
	run.FinishedAt = &now
	if err := s.store.UpdateProvisionRun(ctx, run); err != nil {
		s.logger.Warn("failed to update run record", "run_id", run.ID, "error", err)
	}

	metrics.ProvisionRuns.WithLabelValues(run.Status).Inc()
	metrics.ProvisionDuration.Observe(time.Since(started).Seconds())

	s.publishRunEvent(ctx, events.RunEvent{
		Environment: plan.Environment,
		RunID:       run.ID,
		RunNumber:   run.RunNumber,
		Status:      run.Status,
		Error:       run.Error,
	})

	return &domain.ProvisionResponse{
		RunID:     run.ID,
		RunNumber: run.RunNumber,
		Status:    run.Status,
		Error:     run.Error,
	}, nil
}

// apply ensures the network exists and walks the diffed actions. The master
// is applied before anything else so dependents can resolve it at start; the
// rest runs with bounded parallelism. Per-action failures land in the
// results, a returned error means the pass could not start at all.
func (s *ProvisionService) apply(ctx context.Context, plan *domain.Plan) (domain.ActionResults, error) {
	if err := s.engine.EnsureNetwork(ctx, plan.Network, plan.Subnet); err != nil {
		return nil, err
	}

	observed, err := s.engine.ListContainers(ctx, plan.Environment)
	if err != nil {
		return nil, err
	}

	actions := planner.Diff(plan, observed)
	if len(actions) == 0 {
		return domain.ActionResults{}, nil
	}

	var masterActions, restActions []domain.Action
	for _, action := range actions {
		if action.Spec != nil && action.Spec.Labels[domain.LabelRole] == string(domain.RoleMaster) {
			masterActions = append(masterActions, action)
		} else {
			restActions = append(restActions, action)
		}
	}

	results := make(domain.ActionResults, len(actions))
	for i, action := range masterActions {
		results[i] = s.applyAction(ctx, action)
	}

	offset := len(masterActions)
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, action := range restActions {
		i, action := i, action
		g.Go(func() error {
			results[offset+i] = s.applyAction(ctx, action)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// applyAction executes a single plan action against the engine.
func (s *ProvisionService) applyAction(ctx context.Context, action domain.Action) domain.ActionResult {
	result := domain.ActionResult{Action: action.Kind, Hostname: action.Hostname}

	var err error
	switch action.Kind {
	case domain.ActionCreate:
		err = s.engine.RunContainer(ctx, *action.Spec)
	case domain.ActionReplace:
		if err = s.engine.RemoveContainer(ctx, action.Hostname); err == nil {
			err = s.engine.RunContainer(ctx, *action.Spec)
		}
	case domain.ActionRemove:
		err = s.engine.RemoveContainer(ctx, action.Hostname)
	default:
		err = fmt.Errorf("unknown action kind %q", action.Kind)
	}

	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("plan action failed", "action", action.Kind, "hostname", action.Hostname, "error", err)
	}
	return result
}

// awaitRunning polls the engine until every planned container reports running
// or the health timeout elapses.
func (s *ProvisionService) awaitRunning(ctx context.Context, plan *domain.Plan) error {
	deadline := time.Now().Add(s.opts.HealthTimeout)
	for {
		var pending []string
		for _, spec := range plan.Containers {
			status, err := s.engine.ContainerStatus(ctx, spec.Name)
			if err != nil {
				return err
			}
			if status != domain.ContainerStatusRunning {
				pending = append(pending, spec.Name)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("containers not running after %s: %s", s.opts.HealthTimeout, strings.Join(pending, ", "))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
}

// Teardown removes every managed container of an environment and its network.
// The declarative state is left untouched, so a later provisioning pass
// rebuilds the environment.
func (s *ProvisionService) Teardown(ctx context.Context, environmentID string) (*domain.TeardownResponse, error) {
	env, err := s.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Cancel any pending debounced pass
	if timer, ok := s.timers[environmentID]; ok {
		timer.Stop()
		delete(s.timers, environmentID)
	}
	s.mu.Unlock()

	lock := s.envLock(environmentID)
	if !lock.TryLock() {
		return nil, domain.ErrProvisionInProgress
	}
	defer lock.Unlock()

	observed, err := s.engine.ListContainers(ctx, env.Name)
	if err != nil {
		return nil, err
	}

	removed := 0
	for _, c := range observed {
		if err := s.engine.RemoveContainer(ctx, c.Name); err != nil {
			return nil, fmt.Errorf("removing container %s: %w", c.Name, err)
		}
		removed++
	}

	if err := s.engine.RemoveNetwork(ctx, env.Network); err != nil {
		return nil, fmt.Errorf("removing network %s: %w", env.Network, err)
	}

	s.logger.Info("environment torn down", "environment", env.Name, "removed", removed)

	s.publishRunEvent(ctx, events.RunEvent{
		Environment: env.Name,
		Status:      "teardown",
	})

	return &domain.TeardownResponse{Removed: removed, Network: env.Network}, nil
}

// Status merges the declared hosts of an environment with what the engine
// reports for them. Hosts without a container report not_created. It works on
// incomplete topologies, unlike Plan and Provision.
func (s *ProvisionService) Status(ctx context.Context, environmentID string) ([]domain.HostStatus, error) {
	env, err := s.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	hosts, err := s.store.ListHosts(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.ListRoleAssignments(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	observed, err := s.engine.ListContainers(ctx, env.Name)
	if err != nil {
		return nil, err
	}

	roleByHost := make(map[string]domain.Role, len(assignments))
	for _, ra := range assignments {
		roleByHost[ra.Hostname] = ra.Role
	}
	stateByName := make(map[string]domain.ContainerState, len(observed))
	for _, state := range observed {
		stateByName[state.Name] = state
	}

	statuses := make([]domain.HostStatus, 0, len(hosts))
	for _, host := range hosts {
		hs := domain.HostStatus{
			Hostname: host.Hostname,
			Role:     roleByHost[host.Hostname],
			Image:    host.Image,
			Status:   domain.ContainerStatusNotCreated,
			Address:  host.Address,
		}
		if state, ok := stateByName[host.Hostname]; ok {
			hs.Container = state.ID
			hs.Status = state.Status
			if state.Address != "" {
				hs.Address = state.Address
			}
		}
		statuses = append(statuses, hs)
	}
	return statuses, nil
}

// envLock returns the serialization lock for an environment, creating it on
// first use.
func (s *ProvisionService) envLock(environmentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[environmentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[environmentID] = lock
	}
	return lock
}

func (s *ProvisionService) publishRunEvent(ctx context.Context, event events.RunEvent) {
	subject := events.RunSubject(event.Environment)
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
