package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys         map[string]*domain.APIKey
	environments    map[string]*domain.Environment
	hosts           map[string]*domain.Host           // key: environmentID:hostname
	roleAssignments map[string]*domain.RoleAssignment // key: environmentID:hostname
	deltas          map[string]*domain.DeltaRecord    // key: id
	provisionRuns   map[string]*domain.ProvisionRun   // key: id
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:         make(map[string]*domain.APIKey),
		environments:    make(map[string]*domain.Environment),
		hosts:           make(map[string]*domain.Host),
		roleAssignments: make(map[string]*domain.RoleAssignment),
		deltas:          make(map[string]*domain.DeltaRecord),
		provisionRuns:   make(map[string]*domain.ProvisionRun),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{store: s}, nil
}

// Tx is a no-op transaction for in-memory store.
type Tx struct {
	store *Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// Forward all Tx methods to the underlying store
func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return t.store.CreateAPIKey(ctx, key)
}
func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return t.store.GetAPIKeyByHash(ctx, keyHash)
}
func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return t.store.ListAPIKeys(ctx)
}
func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return t.store.DeleteAPIKey(ctx, id)
}
func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return t.store.UpdateAPIKeyLastUsed(ctx, id)
}
func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return t.store.CountAPIKeys(ctx)
}
func (t *Tx) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return t.store.CreateEnvironment(ctx, env)
}
func (t *Tx) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	return t.store.GetEnvironment(ctx, id)
}
func (t *Tx) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	return t.store.GetEnvironmentByName(ctx, name)
}
func (t *Tx) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	return t.store.ListEnvironments(ctx)
}
func (t *Tx) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	return t.store.UpdateEnvironment(ctx, env)
}
func (t *Tx) DeleteEnvironment(ctx context.Context, id string) error {
	return t.store.DeleteEnvironment(ctx, id)
}
func (t *Tx) CreateHost(ctx context.Context, host *domain.Host) error {
	return t.store.CreateHost(ctx, host)
}
func (t *Tx) GetHost(ctx context.Context, environmentID, hostname string) (*domain.Host, error) {
	return t.store.GetHost(ctx, environmentID, hostname)
}
func (t *Tx) ListHosts(ctx context.Context, environmentID string) ([]*domain.Host, error) {
	return t.store.ListHosts(ctx, environmentID)
}
func (t *Tx) UpdateHost(ctx context.Context, host *domain.Host) error {
	return t.store.UpdateHost(ctx, host)
}
func (t *Tx) DeleteHost(ctx context.Context, environmentID, hostname string) error {
	return t.store.DeleteHost(ctx, environmentID, hostname)
}
func (t *Tx) DeleteAllHostsForEnvironment(ctx context.Context, environmentID string) error {
	return t.store.DeleteAllHostsForEnvironment(ctx, environmentID)
}
func (t *Tx) CreateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	return t.store.CreateRoleAssignment(ctx, ra)
}
func (t *Tx) GetRoleAssignment(ctx context.Context, environmentID, hostname string) (*domain.RoleAssignment, error) {
	return t.store.GetRoleAssignment(ctx, environmentID, hostname)
}
func (t *Tx) ListRoleAssignments(ctx context.Context, environmentID string) ([]*domain.RoleAssignment, error) {
	return t.store.ListRoleAssignments(ctx, environmentID)
}
func (t *Tx) UpdateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	return t.store.UpdateRoleAssignment(ctx, ra)
}
func (t *Tx) DeleteRoleAssignment(ctx context.Context, environmentID, hostname string) error {
	return t.store.DeleteRoleAssignment(ctx, environmentID, hostname)
}
func (t *Tx) DeleteAllRoleAssignmentsForEnvironment(ctx context.Context, environmentID string) error {
	return t.store.DeleteAllRoleAssignmentsForEnvironment(ctx, environmentID)
}
func (t *Tx) CreateDelta(ctx context.Context, delta *domain.DeltaRecord) error {
	return t.store.CreateDelta(ctx, delta)
}
func (t *Tx) GetDelta(ctx context.Context, id string) (*domain.DeltaRecord, error) {
	return t.store.GetDelta(ctx, id)
}
func (t *Tx) ListDeltas(ctx context.Context, filter domain.DeltaFilter) ([]*domain.DeltaRecord, error) {
	return t.store.ListDeltas(ctx, filter)
}
func (t *Tx) CountDeltas(ctx context.Context, filter domain.DeltaFilter) (int, error) {
	return t.store.CountDeltas(ctx, filter)
}
func (t *Tx) UpdateDeltaStatus(ctx context.Context, id, status string) error {
	return t.store.UpdateDeltaStatus(ctx, id, status)
}
func (t *Tx) CreateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	return t.store.CreateProvisionRun(ctx, run)
}
func (t *Tx) GetProvisionRun(ctx context.Context, id string) (*domain.ProvisionRun, error) {
	return t.store.GetProvisionRun(ctx, id)
}
func (t *Tx) GetLatestProvisionRun(ctx context.Context, environmentID string) (*domain.ProvisionRun, error) {
	return t.store.GetLatestProvisionRun(ctx, environmentID)
}
func (t *Tx) ListProvisionRuns(ctx context.Context, environmentID string, limit, offset int) ([]*domain.ProvisionRun, error) {
	return t.store.ListProvisionRuns(ctx, environmentID, limit, offset)
}
func (t *Tx) UpdateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	return t.store.UpdateProvisionRun(ctx, run)
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Environments
// ============================================

func (s *Store) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.environments[env.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.environments {
		if existing.Name == env.Name {
			return domain.ErrAlreadyExists
		}
	}
	s.environments[env.ID] = env
	return nil
}

func (s *Store) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, exists := s.environments[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return env, nil
}

func (s *Store) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, env := range s.environments {
		if env.Name == name {
			return env, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envs := make([]*domain.Environment, 0, len(s.environments))
	for _, env := range s.environments {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	return envs, nil
}

func (s *Store) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.environments[env.ID]; !exists {
		return domain.ErrNotFound
	}
	env.UpdatedAt = time.Now()
	s.environments[env.ID] = env
	return nil
}

func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.environments[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.environments, id)
	// Cascade like the SQL schema does.
	for key, host := range s.hosts {
		if host.EnvironmentID == id {
			delete(s.hosts, key)
		}
	}
	for key, ra := range s.roleAssignments {
		if ra.EnvironmentID == id {
			delete(s.roleAssignments, key)
		}
	}
	for key, run := range s.provisionRuns {
		if run.EnvironmentID == id {
			delete(s.provisionRuns, key)
		}
	}
	return nil
}

// ============================================
// Hosts
// ============================================

func hostKey(environmentID, hostname string) string { return environmentID + ":" + hostname }

func (s *Store) CreateHost(ctx context.Context, host *domain.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hostKey(host.EnvironmentID, host.Hostname)
	if _, exists := s.hosts[key]; exists {
		return domain.ErrAlreadyExists
	}
	s.hosts[key] = host
	return nil
}

func (s *Store) GetHost(ctx context.Context, environmentID, hostname string) (*domain.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, exists := s.hosts[hostKey(environmentID, hostname)]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return host, nil
}

func (s *Store) ListHosts(ctx context.Context, environmentID string) ([]*domain.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hosts := make([]*domain.Host, 0)
	for _, host := range s.hosts {
		if host.EnvironmentID == environmentID {
			hosts = append(hosts, host)
		}
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Hostname < hosts[j].Hostname })
	return hosts, nil
}

func (s *Store) UpdateHost(ctx context.Context, host *domain.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hostKey(host.EnvironmentID, host.Hostname)
	if _, exists := s.hosts[key]; !exists {
		return domain.ErrNotFound
	}
	host.UpdatedAt = time.Now()
	s.hosts[key] = host
	return nil
}

func (s *Store) DeleteHost(ctx context.Context, environmentID, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hostKey(environmentID, hostname)
	if _, exists := s.hosts[key]; !exists {
		return domain.ErrNotFound
	}
	delete(s.hosts, key)
	return nil
}

func (s *Store) DeleteAllHostsForEnvironment(ctx context.Context, environmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, host := range s.hosts {
		if host.EnvironmentID == environmentID {
			delete(s.hosts, key)
		}
	}
	return nil
}

// ============================================
// Role assignments
// ============================================

func roleKey(environmentID, hostname string) string { return environmentID + ":" + hostname }

func (s *Store) CreateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roleKey(ra.EnvironmentID, ra.Hostname)
	if _, exists := s.roleAssignments[key]; exists {
		return domain.ErrAlreadyExists
	}
	s.roleAssignments[key] = ra
	return nil
}

func (s *Store) GetRoleAssignment(ctx context.Context, environmentID, hostname string) (*domain.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ra, exists := s.roleAssignments[roleKey(environmentID, hostname)]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return ra, nil
}

func (s *Store) ListRoleAssignments(ctx context.Context, environmentID string) ([]*domain.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ras := make([]*domain.RoleAssignment, 0)
	for _, ra := range s.roleAssignments {
		if ra.EnvironmentID == environmentID {
			ras = append(ras, ra)
		}
	}
	sort.Slice(ras, func(i, j int) bool { return ras[i].Hostname < ras[j].Hostname })
	return ras, nil
}

func (s *Store) UpdateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roleKey(ra.EnvironmentID, ra.Hostname)
	if _, exists := s.roleAssignments[key]; !exists {
		return domain.ErrNotFound
	}
	ra.UpdatedAt = time.Now()
	s.roleAssignments[key] = ra
	return nil
}

func (s *Store) DeleteRoleAssignment(ctx context.Context, environmentID, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roleKey(environmentID, hostname)
	if _, exists := s.roleAssignments[key]; !exists {
		return domain.ErrNotFound
	}
	delete(s.roleAssignments, key)
	return nil
}

func (s *Store) DeleteAllRoleAssignmentsForEnvironment(ctx context.Context, environmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ra := range s.roleAssignments {
		if ra.EnvironmentID == environmentID {
			delete(s.roleAssignments, key)
		}
	}
	return nil
}

// ============================================
// Feed deltas
// ============================================

func deltaMatches(filter domain.DeltaFilter, delta *domain.DeltaRecord) bool {
	if filter.Operation != "" && delta.Operation != filter.Operation {
		return false
	}
	if filter.Status != "" && delta.Status != filter.Status {
		return false
	}
	return true
}

func (s *Store) CreateDelta(ctx context.Context, delta *domain.DeltaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deltas[delta.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.deltas[delta.ID] = delta
	return nil
}

func (s *Store) GetDelta(ctx context.Context, id string) (*domain.DeltaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delta, exists := s.deltas[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return delta, nil
}

func (s *Store) ListDeltas(ctx context.Context, filter domain.DeltaFilter) ([]*domain.DeltaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deltas := make([]*domain.DeltaRecord, 0)
	for _, delta := range s.deltas {
		if deltaMatches(filter, delta) {
			deltas = append(deltas, delta)
		}
	}
	sort.Slice(deltas, func(i, j int) bool {
		if !deltas[i].ReceivedAt.Equal(deltas[j].ReceivedAt) {
			return deltas[i].ReceivedAt.After(deltas[j].ReceivedAt)
		}
		return deltas[i].ID < deltas[j].ID
	})
	if filter.Limit > 0 {
		if filter.Offset >= len(deltas) {
			return []*domain.DeltaRecord{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(deltas) {
			end = len(deltas)
		}
		deltas = deltas[filter.Offset:end]
	}
	return deltas, nil
}

func (s *Store) CountDeltas(ctx context.Context, filter domain.DeltaFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, delta := range s.deltas {
		if deltaMatches(filter, delta) {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateDeltaStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta, exists := s.deltas[id]
	if !exists {
		return domain.ErrNotFound
	}
	delta.Status = status
	return nil
}

// ============================================
// Provision runs
// ============================================

func (s *Store) CreateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.provisionRuns[run.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.provisionRuns[run.ID] = run
	return nil
}

func (s *Store) GetProvisionRun(ctx context.Context, id string) (*domain.ProvisionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.provisionRuns[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return run, nil
}

func (s *Store) GetLatestProvisionRun(ctx context.Context, environmentID string) (*domain.ProvisionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.ProvisionRun
	for _, run := range s.provisionRuns {
		if run.EnvironmentID != environmentID {
			continue
		}
		if latest == nil || run.RunNumber > latest.RunNumber {
			latest = run
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListProvisionRuns(ctx context.Context, environmentID string, limit, offset int) ([]*domain.ProvisionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*domain.ProvisionRun, 0)
	for _, run := range s.provisionRuns {
		if run.EnvironmentID == environmentID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunNumber > runs[j].RunNumber
	})
	if offset >= len(runs) {
		return []*domain.ProvisionRun{}, nil
	}
	end := offset + limit
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end], nil
}

func (s *Store) UpdateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.provisionRuns[run.ID]; !exists {
		return domain.ErrNotFound
	}
	s.provisionRuns[run.ID] = run
	return nil
}
