package domain

import "time"

// DeltaOperation is the kind of change a vulnerability feed delta describes.
type DeltaOperation string

// The three operations downstream consumers understand. The wire names are
// load-bearing: feed producers and consumers agree on exactly these strings.
const (
	DeltaOperationInsert DeltaOperation = "insert"
	DeltaOperationUpdate DeltaOperation = "update"
	DeltaOperationDelete DeltaOperation = "delete"
)

// ValidDeltaOperation reports whether op is one of the three known operations.
func ValidDeltaOperation(op DeltaOperation) bool {
	switch op {
	case DeltaOperationInsert, DeltaOperationUpdate, DeltaOperationDelete:
		return true
	}
	return false
}

// Delta statuses. Accepted deltas sit in "pending" until a consumer claims
// them; this service never applies deltas itself.
const (
	DeltaStatusPending = "pending"
	DeltaStatusClaimed = "claimed"
)

// Delta is one vulnerability feed change record. The four wire fields and
// their names are fixed by the feed contract and must not be renamed.
type Delta struct {
	CVEID     string `json:"cve_id"`
	DataBlob  string `json:"data_blob"`
	DataHash  string `json:"data_hash"`
	Operation string `json:"operation"`
}

// DeltaRecord is an accepted delta as persisted, wrapping the wire fields
// with bookkeeping.
type DeltaRecord struct {
	ID         string    `json:"id" db:"id"`
	CVEID      string    `json:"cve_id" db:"cve_id"`
	DataBlob   string    `json:"data_blob" db:"data_blob"`
	DataHash   string    `json:"data_hash" db:"data_hash"`
	Operation  string    `json:"operation" db:"operation"`
	Status     string    `json:"status" db:"status"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// DeltaFilter narrows delta listings.
type DeltaFilter struct {
	Operation string
	Status    string
	Limit     int
	Offset    int
}

// DeltaVerdict is the verdict returned by the dry validation endpoint.
type DeltaVerdict struct {
	Valid  bool         `json:"valid"`
	Errors []DeltaIssue `json:"errors,omitempty"`
}

// DeltaIssue is one field-level problem found while validating a delta.
type DeltaIssue struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}
