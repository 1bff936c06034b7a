package validation

import (
	"fmt"

	"github.com/avigil/guardlab/internal/domain"
)

// deltaFields are the required fields of a feed delta record, in the order
// errors are reported.
var deltaFields = []string{"cve_id", "data_blob", "data_hash", "operation"}

// ValidateDelta checks a decoded delta record against the feed contract:
// all four fields present, every value a string, and operation one of
// insert, update, delete. Unknown extra fields are ignored. The input is the
// raw decoded JSON object so that type mismatches can be reported precisely.
func ValidateDelta(raw map[string]any) ValidationErrors {
	var errs ValidationErrors

	for _, field := range deltaFields {
		v, ok := raw[field]
		if !ok {
			errs.Add(field, "", "missing required field")
			continue
		}
		s, ok := v.(string)
		if !ok {
			errs.Add(field, fmt.Sprintf("%v", v), "must be a string")
			continue
		}
		if field == "operation" && !domain.ValidDeltaOperation(domain.DeltaOperation(s)) {
			errs.Add(field, s, "must be one of insert, update, delete")
		}
	}

	return errs
}
