package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &key, err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}

// ============================================
// Environments
// ============================================

func createEnvironment(ctx context.Context, db dbInterface, env *domain.Environment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO environments (id, name, description, network, subnet, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		env.ID, env.Name, env.Description, env.Network, env.Subnet, env.CreatedAt, env.UpdatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.db, env)
}

func (t *Tx) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, t.tx, env)
}

func getEnvironment(ctx context.Context, db dbInterface, id string) (*domain.Environment, error) {
	var env domain.Environment
	err := db.GetContext(ctx, &env,
		`SELECT id, name, description, network, subnet, created_at, updated_at FROM environments WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &env, err
}

func (s *Store) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	return getEnvironment(ctx, s.db, id)
}

func (t *Tx) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	return getEnvironment(ctx, t.tx, id)
}

func getEnvironmentByName(ctx context.Context, db dbInterface, name string) (*domain.Environment, error) {
	var env domain.Environment
	err := db.GetContext(ctx, &env,
		`SELECT id, name, description, network, subnet, created_at, updated_at FROM environments WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &env, err
}

func (s *Store) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	return getEnvironmentByName(ctx, s.db, name)
}

func (t *Tx) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	return getEnvironmentByName(ctx, t.tx, name)
}

func listEnvironments(ctx context.Context, db dbInterface) ([]*domain.Environment, error) {
	var envs []*domain.Environment
	err := db.SelectContext(ctx, &envs,
		`SELECT id, name, description, network, subnet, created_at, updated_at FROM environments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *Store) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	return listEnvironments(ctx, s.db)
}

func (t *Tx) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	return listEnvironments(ctx, t.tx)
}

func updateEnvironment(ctx context.Context, db dbInterface, env *domain.Environment) error {
	env.UpdatedAt = time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE environments SET name = $1, description = $2, network = $3, subnet = $4, updated_at = $5 WHERE id = $6`,
		env.Name, env.Description, env.Network, env.Subnet, env.UpdatedAt, env.ID)
	if err != nil {
		return wrapUniqueError(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	return updateEnvironment(ctx, s.db, env)
}

func (t *Tx) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	return updateEnvironment(ctx, t.tx, env)
}

func deleteEnvironment(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	return deleteEnvironment(ctx, s.db, id)
}

func (t *Tx) DeleteEnvironment(ctx context.Context, id string) error {
	return deleteEnvironment(ctx, t.tx, id)
}

// ============================================
// Hosts
// ============================================

func createHost(ctx context.Context, db dbInterface, host *domain.Host) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO hosts (id, environment_id, hostname, image, address, ports, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		host.ID, host.EnvironmentID, host.Hostname, host.Image, host.Address, host.Ports, host.CreatedAt, host.UpdatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateHost(ctx context.Context, host *domain.Host) error {
	return createHost(ctx, s.db, host)
}

func (t *Tx) CreateHost(ctx context.Context, host *domain.Host) error {
	return createHost(ctx, t.tx, host)
}

func getHost(ctx context.Context, db dbInterface, environmentID, hostname string) (*domain.Host, error) {
	var host domain.Host
	err := db.GetContext(ctx, &host,
		`SELECT id, environment_id, hostname, image, address, ports, created_at, updated_at
		 FROM hosts WHERE environment_id = $1 AND hostname = $2`, environmentID, hostname)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &host, err
}

func (s *Store) GetHost(ctx context.Context, environmentID, hostname string) (*domain.Host, error) {
	return getHost(ctx, s.db, environmentID, hostname)
}

func (t *Tx) GetHost(ctx context.Context, environmentID, hostname string) (*domain.Host, error) {
	return getHost(ctx, t.tx, environmentID, hostname)
}

func listHosts(ctx context.Context, db dbInterface, environmentID string) ([]*domain.Host, error) {
	var hosts []*domain.Host
	err := db.SelectContext(ctx, &hosts,
		`SELECT id, environment_id, hostname, image, address, ports, created_at, updated_at
		 FROM hosts WHERE environment_id = $1 ORDER BY hostname`, environmentID)
	return hosts, err
}

func (s *Store) ListHosts(ctx context.Context, environmentID string) ([]*domain.Host, error) {
	return listHosts(ctx, s.db, environmentID)
}

func (t *Tx) ListHosts(ctx context.Context, environmentID string) ([]*domain.Host, error) {
	return listHosts(ctx, t.tx, environmentID)
}

func updateHost(ctx context.Context, db dbInterface, host *domain.Host) error {
	host.UpdatedAt = time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE hosts SET image = $1, address = $2, ports = $3, updated_at = $4 WHERE id = $5`,
		host.Image, host.Address, host.Ports, host.UpdatedAt, host.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateHost(ctx context.Context, host *domain.Host) error {
	return updateHost(ctx, s.db, host)
}

func (t *Tx) UpdateHost(ctx context.Context, host *domain.Host) error {
	return updateHost(ctx, t.tx, host)
}

func deleteHost(ctx context.Context, db dbInterface, environmentID, hostname string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM hosts WHERE environment_id = $1 AND hostname = $2`, environmentID, hostname)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteHost(ctx context.Context, environmentID, hostname string) error {
	return deleteHost(ctx, s.db, environmentID, hostname)
}

func (t *Tx) DeleteHost(ctx context.Context, environmentID, hostname string) error {
	return deleteHost(ctx, t.tx, environmentID, hostname)
}

func deleteAllHostsForEnvironment(ctx context.Context, db dbInterface, environmentID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM hosts WHERE environment_id = $1`, environmentID)
	return err
}

func (s *Store) DeleteAllHostsForEnvironment(ctx context.Context, environmentID string) error {
	return deleteAllHostsForEnvironment(ctx, s.db, environmentID)
}

func (t *Tx) DeleteAllHostsForEnvironment(ctx context.Context, environmentID string) error {
	return deleteAllHostsForEnvironment(ctx, t.tx, environmentID)
}

// ============================================
// Role assignments
// ============================================

func createRoleAssignment(ctx context.Context, db dbInterface, ra *domain.RoleAssignment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO role_assignments (id, environment_id, hostname, role, vars, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ra.ID, ra.EnvironmentID, ra.Hostname, ra.Role, ra.Vars, ra.CreatedAt, ra.UpdatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	return createRoleAssignment(ctx, s.db, ra)
}

func (t *Tx) CreateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	return createRoleAssignment(ctx, t.tx, ra)
}

func getRoleAssignment(ctx context.Context, db dbInterface, environmentID, hostname string) (*domain.RoleAssignment, error) {
	var ra domain.RoleAssignment
	err := db.GetContext(ctx, &ra,
		`SELECT id, environment_id, hostname, role, vars, created_at, updated_at
		 FROM role_assignments WHERE environment_id = $1 AND hostname = $2`, environmentID, hostname)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &ra, err
}

func (s *Store) GetRoleAssignment(ctx context.Context, environmentID, hostname string) (*domain.RoleAssignment, error) {
	return getRoleAssignment(ctx, s.db, environmentID, hostname)
}

func (t *Tx) GetRoleAssignment(ctx context.Context, environmentID, hostname string) (*domain.RoleAssignment, error) {
	return getRoleAssignment(ctx, t.tx, environmentID, hostname)
}

func listRoleAssignments(ctx context.Context, db dbInterface, environmentID string) ([]*domain.RoleAssignment, error) {
	var ras []*domain.RoleAssignment
	err := db.SelectContext(ctx, &ras,
		`SELECT id, environment_id, hostname, role, vars, created_at, updated_at
		 FROM role_assignments WHERE environment_id = $1 ORDER BY hostname`, environmentID)
	return ras, err
}

func (s *Store) ListRoleAssignments(ctx context.Context, environmentID string) ([]*domain.RoleAssignment, error) {
	return listRoleAssignments(ctx, s.db, environmentID)
}

func (t *Tx) ListRoleAssignments(ctx context.Context, environmentID string) ([]*domain.RoleAssignment, error) {
	return listRoleAssignments(ctx, t.tx, environmentID)
}

func updateRoleAssignment(ctx context.Context, db dbInterface, ra *domain.RoleAssignment) error {
	ra.UpdatedAt = time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE role_assignments SET role = $1, vars = $2, updated_at = $3 WHERE id = $4`,
		ra.Role, ra.Vars, ra.UpdatedAt, ra.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	return updateRoleAssignment(ctx, s.db, ra)
}

func (t *Tx) UpdateRoleAssignment(ctx context.Context, ra *domain.RoleAssignment) error {
	return updateRoleAssignment(ctx, t.tx, ra)
}

func deleteRoleAssignment(ctx context.Context, db dbInterface, environmentID, hostname string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE environment_id = $1 AND hostname = $2`, environmentID, hostname)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoleAssignment(ctx context.Context, environmentID, hostname string) error {
	return deleteRoleAssignment(ctx, s.db, environmentID, hostname)
}

func (t *Tx) DeleteRoleAssignment(ctx context.Context, environmentID, hostname string) error {
	return deleteRoleAssignment(ctx, t.tx, environmentID, hostname)
}

func deleteAllRoleAssignmentsForEnvironment(ctx context.Context, db dbInterface, environmentID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM role_assignments WHERE environment_id = $1`, environmentID)
	return err
}

func (s *Store) DeleteAllRoleAssignmentsForEnvironment(ctx context.Context, environmentID string) error {
	return deleteAllRoleAssignmentsForEnvironment(ctx, s.db, environmentID)
}

func (t *Tx) DeleteAllRoleAssignmentsForEnvironment(ctx context.Context, environmentID string) error {
	return deleteAllRoleAssignmentsForEnvironment(ctx, t.tx, environmentID)
}

// ============================================
// Feed deltas
// ============================================

func createDelta(ctx context.Context, db dbInterface, delta *domain.DeltaRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO delta_records (id, cve_id, data_blob, data_hash, operation, status, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		delta.ID, delta.CVEID, delta.DataBlob, delta.DataHash, delta.Operation, delta.Status, delta.ReceivedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateDelta(ctx context.Context, delta *domain.DeltaRecord) error {
	return createDelta(ctx, s.db, delta)
}

func (t *Tx) CreateDelta(ctx context.Context, delta *domain.DeltaRecord) error {
	return createDelta(ctx, t.tx, delta)
}

func getDelta(ctx context.Context, db dbInterface, id string) (*domain.DeltaRecord, error) {
	var delta domain.DeltaRecord
	err := db.GetContext(ctx, &delta,
		`SELECT id, cve_id, data_blob, data_hash, operation, status, received_at FROM delta_records WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &delta, err
}

func (s *Store) GetDelta(ctx context.Context, id string) (*domain.DeltaRecord, error) {
	return getDelta(ctx, s.db, id)
}

func (t *Tx) GetDelta(ctx context.Context, id string) (*domain.DeltaRecord, error) {
	return getDelta(ctx, t.tx, id)
}

// deltaConditions builds the WHERE clause for a delta filter. Args returned
// match the placeholder numbering used in the clause.
func deltaConditions(filter domain.DeltaFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Operation != "" {
		args = append(args, filter.Operation)
		conds = append(conds, fmt.Sprintf("operation = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func listDeltas(ctx context.Context, db dbInterface, filter domain.DeltaFilter) ([]*domain.DeltaRecord, error) {
	where, args := deltaConditions(filter)
	query := `SELECT id, cve_id, data_blob, data_hash, operation, status, received_at FROM delta_records` +
		where + ` ORDER BY received_at DESC, id`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	var deltas []*domain.DeltaRecord
	err := db.SelectContext(ctx, &deltas, query, args...)
	return deltas, err
}

func (s *Store) ListDeltas(ctx context.Context, filter domain.DeltaFilter) ([]*domain.DeltaRecord, error) {
	return listDeltas(ctx, s.db, filter)
}

func (t *Tx) ListDeltas(ctx context.Context, filter domain.DeltaFilter) ([]*domain.DeltaRecord, error) {
	return listDeltas(ctx, t.tx, filter)
}

func countDeltas(ctx context.Context, db dbInterface, filter domain.DeltaFilter) (int, error) {
	where, args := deltaConditions(filter)
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM delta_records`+where, args...)
	return count, err
}

func (s *Store) CountDeltas(ctx context.Context, filter domain.DeltaFilter) (int, error) {
	return countDeltas(ctx, s.db, filter)
}

func (t *Tx) CountDeltas(ctx context.Context, filter domain.DeltaFilter) (int, error) {
	return countDeltas(ctx, t.tx, filter)
}

func updateDeltaStatus(ctx context.Context, db dbInterface, id, status string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE delta_records SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateDeltaStatus(ctx context.Context, id, status string) error {
	return updateDeltaStatus(ctx, s.db, id, status)
}

func (t *Tx) UpdateDeltaStatus(ctx context.Context, id, status string) error {
	return updateDeltaStatus(ctx, t.tx, id, status)
}

// ============================================
// Provision runs
// ============================================

func createProvisionRun(ctx context.Context, db dbInterface, run *domain.ProvisionRun) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO provision_runs (id, environment_id, run_number, rendered_plan, status, error, results, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.EnvironmentID, run.RunNumber, run.RenderedPlan, run.Status, run.Error, run.Results, run.CreatedAt, run.FinishedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	return createProvisionRun(ctx, s.db, run)
}

func (t *Tx) CreateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	return createProvisionRun(ctx, t.tx, run)
}

func getProvisionRun(ctx context.Context, db dbInterface, id string) (*domain.ProvisionRun, error) {
	var run domain.ProvisionRun
	err := db.GetContext(ctx, &run,
		`SELECT id, environment_id, run_number, rendered_plan, status, error, results, created_at, finished_at
		 FROM provision_runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &run, err
}

func (s *Store) GetProvisionRun(ctx context.Context, id string) (*domain.ProvisionRun, error) {
	return getProvisionRun(ctx, s.db, id)
}

func (t *Tx) GetProvisionRun(ctx context.Context, id string) (*domain.ProvisionRun, error) {
	return getProvisionRun(ctx, t.tx, id)
}

func getLatestProvisionRun(ctx context.Context, db dbInterface, environmentID string) (*domain.ProvisionRun, error) {
	var run domain.ProvisionRun
	err := db.GetContext(ctx, &run,
		`SELECT id, environment_id, run_number, rendered_plan, status, error, results, created_at, finished_at
		 FROM provision_runs WHERE environment_id = $1 ORDER BY run_number DESC LIMIT 1`, environmentID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &run, err
}

func (s *Store) GetLatestProvisionRun(ctx context.Context, environmentID string) (*domain.ProvisionRun, error) {
	return getLatestProvisionRun(ctx, s.db, environmentID)
}

func (t *Tx) GetLatestProvisionRun(ctx context.Context, environmentID string) (*domain.ProvisionRun, error) {
	return getLatestProvisionRun(ctx, t.tx, environmentID)
}

func listProvisionRuns(ctx context.Context, db dbInterface, environmentID string, limit, offset int) ([]*domain.ProvisionRun, error) {
	var runs []*domain.ProvisionRun
	err := db.SelectContext(ctx, &runs,
		`SELECT id, environment_id, run_number, rendered_plan, status, error, results, created_at, finished_at
		 FROM provision_runs WHERE environment_id = $1 ORDER BY run_number DESC LIMIT $2 OFFSET $3`,
		environmentID, limit, offset)
	return runs, err
}

func (s *Store) ListProvisionRuns(ctx context.Context, environmentID string, limit, offset int) ([]*domain.ProvisionRun, error) {
	return listProvisionRuns(ctx, s.db, environmentID, limit, offset)
}

func (t *Tx) ListProvisionRuns(ctx context.Context, environmentID string, limit, offset int) ([]*domain.ProvisionRun, error) {
	return listProvisionRuns(ctx, t.tx, environmentID, limit, offset)
}

func updateProvisionRun(ctx context.Context, db dbInterface, run *domain.ProvisionRun) error {
	result, err := db.ExecContext(ctx,
		`UPDATE provision_runs SET status = $1, error = $2, results = $3, finished_at = $4 WHERE id = $5`,
		run.Status, run.Error, run.Results, run.FinishedAt, run.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	return updateProvisionRun(ctx, s.db, run)
}

func (t *Tx) UpdateProvisionRun(ctx context.Context, run *domain.ProvisionRun) error {
	return updateProvisionRun(ctx, t.tx, run)
}
