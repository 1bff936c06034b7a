package domain

import (
	"database/sql/driver"
	"time"
)

// Provision run statuses.
const (
	RunStatusPending = "pending"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPartial = "partial" // Some actions applied, some failed
)

// ProvisionRun is a versioned record of one provisioning pass for an
// environment. Kept for audit trail and for inspecting what was applied.
type ProvisionRun struct {
	ID            string        `json:"id" db:"id"`
	EnvironmentID string        `json:"environment_id" db:"environment_id"`
	RunNumber     int           `json:"run_number" db:"run_number"`
	RenderedPlan  string        `json:"rendered_plan" db:"rendered_plan"` // JSON string
	Status        string        `json:"status" db:"status"`
	Error         string        `json:"error,omitempty" db:"error"`
	Results       ActionResults `json:"results,omitempty" db:"results"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty" db:"finished_at"`
}

// ActionResult records the outcome of a single plan action.
type ActionResult struct {
	Action   string `json:"action"` // create, replace, remove
	Hostname string `json:"hostname"`
	Error    string `json:"error,omitempty"`
}

// ActionResults is stored as a JSON text column.
type ActionResults []ActionResult

// Value implements driver.Valuer.
func (r ActionResults) Value() (driver.Value, error) {
	return jsonColumnValue(r)
}

// Scan implements sql.Scanner.
func (r *ActionResults) Scan(src any) error {
	return scanJSON(src, r)
}

// ProvisionResponse is returned after a provisioning pass.
type ProvisionResponse struct {
	RunID     string `json:"run_id"`
	RunNumber int    `json:"run_number"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// TeardownResponse is returned after an environment teardown.
type TeardownResponse struct {
	Removed int    `json:"removed"` // Containers removed
	Network string `json:"network"`
}
