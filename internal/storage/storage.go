package storage

import (
	"context"

	"github.com/avigil/guardlab/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Environments
	CreateEnvironment(ctx context.Context, env *domain.Environment) error
	GetEnvironment(ctx context.Context, id string) (*domain.Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error)
	ListEnvironments(ctx context.Context) ([]*domain.Environment, error)
	UpdateEnvironment(ctx context.Context, env *domain.Environment) error
	DeleteEnvironment(ctx context.Context, id string) error

	// Hosts
	CreateHost(ctx context.Context, host *domain.Host) error
	GetHost(ctx context.Context, environmentID, hostname string) (*domain.Host, error)
	ListHosts(ctx context.Context, environmentID string) ([]*domain.Host, error)
	UpdateHost(ctx context.Context, host *domain.Host) error
	DeleteHost(ctx context.Context, environmentID, hostname string) error
	DeleteAllHostsForEnvironment(ctx context.Context, environmentID string) error

	// Role assignments
	CreateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error
	GetRoleAssignment(ctx context.Context, environmentID, hostname string) (*domain.RoleAssignment, error)
	ListRoleAssignments(ctx context.Context, environmentID string) ([]*domain.RoleAssignment, error)
	UpdateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, environmentID, hostname string) error
	DeleteAllRoleAssignmentsForEnvironment(ctx context.Context, environmentID string) error

	// Feed deltas
	CreateDelta(ctx context.Context, delta *domain.DeltaRecord) error
	GetDelta(ctx context.Context, id string) (*domain.DeltaRecord, error)
	ListDeltas(ctx context.Context, filter domain.DeltaFilter) ([]*domain.DeltaRecord, error)
	CountDeltas(ctx context.Context, filter domain.DeltaFilter) (int, error)
	UpdateDeltaStatus(ctx context.Context, id, status string) error

	// Provision runs
	CreateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error
	GetProvisionRun(ctx context.Context, id string) (*domain.ProvisionRun, error)
	GetLatestProvisionRun(ctx context.Context, environmentID string) (*domain.ProvisionRun, error)
	ListProvisionRuns(ctx context.Context, environmentID string, limit, offset int) ([]*domain.ProvisionRun, error)
	UpdateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
